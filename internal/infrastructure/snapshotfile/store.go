package snapshotfile

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/valyala/bytebufferpool"

	"github.com/headonpro/tabellen-service/internal/domain/snapshot"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// ErrNotFound marks a snapshot id with no file behind it.
var ErrNotFound = crerr.New("snapshot not found")

// ErrInvalidBlob marks a snapshot file that fails schema or checksum checks.
var ErrInvalidBlob = crerr.New("snapshot blob is not valid")

const (
	extPlain      = ".json"
	extCompressed = ".json.gz"

	// TimestampLayout is the filename-safe timestamp segment of a snapshot id.
	TimestampLayout = "20060102T150405Z"
)

type Config struct {
	Dir                string
	MaxSnapshots       int
	CompressionEnabled bool
	ChecksumEnabled    bool
}

// Store owns the snapshot directory: it is the only creator and deleter of
// snapshot files. Concurrent reads are safe; unique ids make every file
// single-writer.
type Store struct {
	cfg      Config
	validate *validator.Validate
	logger   *logging.Logger
}

type blob struct {
	Metadata snapshot.Metadata       `json:"metadata" validate:"required"`
	Entries  []tableentry.TableEntry `json:"entries" validate:"dive"`
	Checksum string                  `json:"checksum,omitempty"`
}

func NewStore(cfg Config, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, crerr.New("snapshot directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, crerr.Wrap(err, "create snapshot directory")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// BuildID assembles a snapshot id from its identity parts.
func BuildID(leagueID, seasonID int64, createdAt time.Time, rand string) string {
	return fmt.Sprintf("snapshot_%d_%d_%s_%s", leagueID, seasonID, createdAt.UTC().Format(TimestampLayout), rand)
}

// Write serializes metadata plus entries to a new snapshot file and enforces
// the count cap afterwards.
func (s *Store) Write(ctx context.Context, meta snapshot.Metadata, entries []tableentry.TableEntry) (snapshot.Snapshot, error) {
	if strings.TrimSpace(meta.SnapshotID) == "" {
		return snapshot.Snapshot{}, crerr.New("snapshot id is required")
	}

	payload := blob{Metadata: meta, Entries: entries}
	if s.cfg.ChecksumEnabled {
		checksum, err := checksumEntries(entries)
		if err != nil {
			return snapshot.Snapshot{}, crerr.Wrap(err, "checksum snapshot entries")
		}
		payload.Checksum = checksum
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(payload); err != nil {
		return snapshot.Snapshot{}, crerr.Wrap(err, "encode snapshot blob")
	}

	path := s.pathFor(meta.SnapshotID)
	if err := s.writeFile(path, buf.Bytes()); err != nil {
		return snapshot.Snapshot{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return snapshot.Snapshot{}, crerr.Wrap(err, "stat snapshot file")
	}

	if evicted, err := s.enforceCountCap(ctx); err != nil {
		s.logger.WarnContext(ctx, "snapshot count cap sweep failed", "error", err)
	} else if evicted > 0 {
		s.logger.InfoContext(ctx, "snapshot count cap enforced", "evicted", evicted)
	}

	return snapshot.Snapshot{
		Metadata:  meta,
		Entries:   entries,
		Checksum:  payload.Checksum,
		SizeBytes: info.Size(),
		FilePath:  path,
	}, nil
}

// Read loads and validates one snapshot by id.
func (s *Store) Read(_ context.Context, snapshotID string) (snapshot.Snapshot, error) {
	path, compressed, err := s.locate(snapshotID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot.Snapshot{}, crerr.Wrapf(ErrNotFound, "snapshot %s", snapshotID)
		}
		return snapshot.Snapshot{}, crerr.Wrap(err, "read snapshot file")
	}

	if compressed {
		raw, err = gunzip(raw)
		if err != nil {
			return snapshot.Snapshot{}, crerr.WrapWithDepth(1, crerr.CombineErrors(ErrInvalidBlob, err), "decompress snapshot")
		}
	}

	var payload blob
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return snapshot.Snapshot{}, crerr.WrapWithDepth(1, crerr.CombineErrors(ErrInvalidBlob, err), "decode snapshot blob")
	}
	if err := s.validate.Struct(payload); err != nil {
		return snapshot.Snapshot{}, crerr.WrapWithDepth(1, crerr.CombineErrors(ErrInvalidBlob, err), "snapshot blob schema")
	}
	for _, item := range payload.Entries {
		if strings.TrimSpace(item.ClubName) == "" {
			return snapshot.Snapshot{}, crerr.Wrapf(ErrInvalidBlob, "snapshot entry club=%d has empty club name", item.ClubID)
		}
	}

	if payload.Checksum != "" {
		computed, err := checksumEntries(payload.Entries)
		if err != nil {
			return snapshot.Snapshot{}, crerr.Wrap(err, "recompute snapshot checksum")
		}
		if computed != payload.Checksum {
			return snapshot.Snapshot{}, crerr.Wrapf(ErrInvalidBlob, "snapshot checksum mismatch: stored %s, computed %s", payload.Checksum, computed)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return snapshot.Snapshot{}, crerr.Wrap(err, "stat snapshot file")
	}

	return snapshot.Snapshot{
		Metadata:  payload.Metadata,
		Entries:   payload.Entries,
		Checksum:  payload.Checksum,
		SizeBytes: info.Size(),
		FilePath:  path,
	}, nil
}

// List returns the snapshots of one league-season pair, newest first by
// created_at with file mtime as the tie-break.
func (s *Store) List(ctx context.Context, leagueID, seasonID int64) ([]snapshot.Snapshot, error) {
	ids, err := s.idsForPair(leagueID, seasonID)
	if err != nil {
		return nil, err
	}

	out := make([]snapshot.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Read(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable snapshot", "snapshot_id", id, "error", err)
			continue
		}
		out = append(out, snap)
	}

	sort.SliceStable(out, func(i, j int) bool {
		left, right := out[i].Metadata.CreatedAt, out[j].Metadata.CreatedAt
		if !left.Equal(right) {
			return left.After(right)
		}
		return mtimeOf(out[i].FilePath).After(mtimeOf(out[j].FilePath))
	})
	return out, nil
}

// Remove deletes one snapshot file.
func (s *Store) Remove(_ context.Context, snapshotID string) error {
	path, _, err := s.locate(snapshotID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return crerr.Wrapf(ErrNotFound, "snapshot %s", snapshotID)
		}
		return crerr.Wrap(err, "remove snapshot file")
	}
	return nil
}

// SweepOlderThan deletes snapshots whose file modification time is older than
// maxAge. Returns the number of removed snapshots.
func (s *Store) SweepOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	files, err := s.snapshotFiles()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) pathFor(snapshotID string) string {
	ext := extPlain
	if s.cfg.CompressionEnabled {
		ext = extCompressed
	}
	return filepath.Join(s.cfg.Dir, snapshotID+ext)
}

// locate resolves a snapshot id to its file, accepting either extension so a
// compression-setting change does not orphan older snapshots.
func (s *Store) locate(snapshotID string) (string, bool, error) {
	if strings.TrimSpace(snapshotID) == "" {
		return "", false, crerr.New("snapshot id is required")
	}

	plain := filepath.Join(s.cfg.Dir, snapshotID+extPlain)
	if _, err := os.Stat(plain); err == nil {
		return plain, false, nil
	}
	compressed := filepath.Join(s.cfg.Dir, snapshotID+extCompressed)
	if _, err := os.Stat(compressed); err == nil {
		return compressed, true, nil
	}
	return "", false, crerr.Wrapf(ErrNotFound, "snapshot %s", snapshotID)
}

func (s *Store) writeFile(path string, data []byte) error {
	if !s.cfg.CompressionEnabled {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return crerr.Wrap(err, "write snapshot file")
		}
		return nil
	}

	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write(data); err != nil {
		return crerr.Wrap(err, "compress snapshot blob")
	}
	if err := writer.Close(); err != nil {
		return crerr.Wrap(err, "finish snapshot compression")
	}
	if err := os.WriteFile(path, compressed.Bytes(), 0o644); err != nil {
		return crerr.Wrap(err, "write snapshot file")
	}
	return nil
}

func (s *Store) snapshotFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, crerr.Wrap(err, "read snapshot directory")
	}

	out := make([]string, 0, len(dirEntries))
	for _, item := range dirEntries {
		if item.IsDir() {
			continue
		}
		name := item.Name()
		if !strings.HasPrefix(name, "snapshot_") {
			continue
		}
		if !strings.HasSuffix(name, extPlain) && !strings.HasSuffix(name, extCompressed) {
			continue
		}
		out = append(out, filepath.Join(s.cfg.Dir, name))
	}
	return out, nil
}

func (s *Store) idsForPair(leagueID, seasonID int64) ([]string, error) {
	files, err := s.snapshotFiles()
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("snapshot_%d_%d_", leagueID, seasonID)
	out := make([]string, 0, len(files))
	for _, file := range files {
		id := idFromPath(file)
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

// enforceCountCap evicts the oldest snapshots beyond MaxSnapshots, ordered by
// the timestamp encoded in the id with mtime as tie-break.
func (s *Store) enforceCountCap(_ context.Context) (int, error) {
	if s.cfg.MaxSnapshots <= 0 {
		return 0, nil
	}

	files, err := s.snapshotFiles()
	if err != nil {
		return 0, err
	}
	if len(files) <= s.cfg.MaxSnapshots {
		return 0, nil
	}

	sort.SliceStable(files, func(i, j int) bool {
		left, leftOK := timestampFromID(idFromPath(files[i]))
		right, rightOK := timestampFromID(idFromPath(files[j]))
		if leftOK && rightOK && !left.Equal(right) {
			return left.Before(right)
		}
		return mtimeOf(files[i]).Before(mtimeOf(files[j]))
	})

	removed := 0
	for _, file := range files[:len(files)-s.cfg.MaxSnapshots] {
		if err := os.Remove(file); err == nil {
			removed++
		}
	}
	return removed, nil
}

func idFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, extCompressed)
	name = strings.TrimSuffix(name, extPlain)
	return name
}

// timestampFromID parses the timestamp segment of
// snapshot_{league}_{season}_{timestamp}_{rand}.
func timestampFromID(id string) (time.Time, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 5 || parts[0] != "snapshot" {
		return time.Time{}, false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(TimestampLayout, parts[3])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func mtimeOf(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// checksumEntries hashes the canonical JSON of the entry array only, never the
// surrounding metadata.
func checksumEntries(entries []tableentry.TableEntry) (string, error) {
	if entries == nil {
		entries = []tableentry.TableEntry{}
	}
	canonical, err := sonic.Marshal(entries)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func gunzip(raw []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	return io.ReadAll(reader)
}
