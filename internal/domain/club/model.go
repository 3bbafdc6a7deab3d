package club

// Club is a participant of a league.
type Club struct {
	ID     int64
	Name   string
	Active bool
}
