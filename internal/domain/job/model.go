package job

import (
	"time"

	"github.com/headonpro/tabellen-service/internal/apperrors"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

type Trigger string

const (
	TriggerGameResult Trigger = "GAME_RESULT"
	TriggerManual     Trigger = "MANUAL"
	TriggerScheduled  Trigger = "SCHEDULED"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// MaxErrorHistory bounds the per-job classified error list.
const MaxErrorHistory = 10

// Job is one scheduled table calculation for a (league, season) pair.
type Job struct {
	ID           string
	LeagueID     int64
	SeasonID     int64
	Priority     Priority
	Trigger      Trigger
	Status       Status
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int
	TimeoutCount int
	ErrorHistory []apperrors.ClassifiedError
	Description  string
}

func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// RecordError appends a classified error, evicting the oldest beyond the cap.
func (j *Job) RecordError(classified apperrors.ClassifiedError) {
	j.ErrorHistory = append(j.ErrorHistory, classified)
	if len(j.ErrorHistory) > MaxErrorHistory {
		j.ErrorHistory = j.ErrorHistory[len(j.ErrorHistory)-MaxErrorHistory:]
	}
}

func NormalizePriority(raw string, fallback Priority) Priority {
	switch Priority(raw) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(raw)
	default:
		return fallback
	}
}

func NormalizeTrigger(raw string, fallback Trigger) Trigger {
	switch Trigger(raw) {
	case TriggerGameResult, TriggerManual, TriggerScheduled:
		return Trigger(raw)
	default:
		return fallback
	}
}
