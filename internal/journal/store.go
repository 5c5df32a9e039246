// Package journal owns the durable sequence of accepted submissions. Every
// read and mutation runs on a single goroutine, so callers never race on the
// backing storage.
package journal

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/models"

	"github.com/google/uuid"
)

var ErrClosed = stderrors.New("journal is closed")

// InterruptedError is recorded on entries whose uploads were cut off by a
// restart. Their attachments lived only in memory and cannot be resumed.
const InterruptedError = "interrupted by restart before attachments finished"

// Mutator changes one record in place. ID and CreatedAt are restored after
// it runs, and RemoteSynced cannot go from true back to false.
type Mutator func(rec *models.SubmissionRecord)

type request struct {
	fn    func() error
	reply chan error
}

type Store struct {
	backend Backend
	logger  logger.Logger

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run loop.
	records []models.SubmissionRecord
	ids     map[string]int
	now     func() time.Time
	newID   func(time.Time) string
}

// Open loads the persisted snapshot and starts the store's run loop.
func Open(ctx context.Context, backend Backend, log logger.Logger) (*Store, error) {
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load", err)
	}

	s := &Store{
		backend:  backend,
		logger:   log.WithFields(map[string]interface{}{"component": "journal"}),
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ids:      map[string]int{},
		now:      time.Now,
		newID:    NewSubmissionID,
	}
	if snap != nil {
		s.records = snap.Records
	}
	for i, rec := range s.records {
		s.ids[rec.ID] = i
	}
	interrupted, err := s.failInterrupted(ctx)
	if err != nil {
		return nil, err
	}
	s.updateGauges()

	s.logger.Info("journal opened", map[string]interface{}{
		"entries":     len(s.records),
		"unsynced":    s.countUnsynced(),
		"interrupted": interrupted,
	})

	go s.run()
	return s, nil
}

// failInterrupted moves entries left in Processing by a previous process to
// Failed. Synced rows are flagged so reconciliation rewrites their cells.
func (s *Store) failInterrupted(ctx context.Context) (int, error) {
	next := make([]models.SubmissionRecord, len(s.records))
	n := 0
	for i, rec := range s.records {
		rec = rec.Clone()
		if rec.AttachmentStatus == models.AttachmentProcessing {
			rec.AttachmentStatus = models.AttachmentFailed
			if rec.AttachmentError == "" {
				rec.AttachmentError = InterruptedError
			} else {
				rec.AttachmentError += "; " + InterruptedError
			}
			if rec.RemoteSynced {
				rec.RemoteCellsStale = true
			}
			n++
		}
		next[i] = rec
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.commit(ctx, "recover", next); err != nil {
		return 0, err
	}
	s.logger.Warn("interrupted submissions marked failed", map[string]interface{}{"count": n})
	return n, nil
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			req.reply <- req.fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the store goroutine. Once fn has been accepted its result
// is always awaited, so a cancelled ctx cannot hide a committed mutation.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
	return <-req.reply
}

// NewSubmissionID returns an id of the form REQ-YYYYMMDD-HHMMSS-xxxxxxxx.
func NewSubmissionID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("REQ-%s-%s", t.UTC().Format("20060102-150405"), suffix)
}

// Append stores a new unsynced record and returns it with its index.
func (s *Store) Append(ctx context.Context, fields models.Fields, status models.AttachmentStatus) (models.JournalEntry, error) {
	var entry models.JournalEntry
	err := s.do(ctx, func() error {
		createdAt := s.now().UTC()
		id := s.newID(createdAt)
		for attempts := 0; s.hasID(id); attempts++ {
			if attempts >= 10 {
				return fmt.Errorf("could not allocate a unique submission id")
			}
			id = s.newID(createdAt)
		}
		if status == "" {
			status = models.AttachmentNone
		}
		rec := models.SubmissionRecord{
			ID:               id,
			Fields:           fields.Clone(),
			AttachmentStatus: status,
			CreatedAt:        createdAt,
		}

		next := make([]models.SubmissionRecord, len(s.records), len(s.records)+1)
		copy(next, s.records)
		next = append(next, rec)
		if err := s.commit(ctx, "append", next); err != nil {
			return err
		}
		s.ids[id] = len(next) - 1
		entry = models.JournalEntry{Index: len(next) - 1, SubmissionRecord: rec.Clone()}
		return nil
	})
	return entry, err
}

// PatchByIndex applies mut to the entry at index.
func (s *Store) PatchByIndex(ctx context.Context, index int, mut Mutator) error {
	return s.do(ctx, func() error {
		if index < 0 || index >= len(s.records) {
			return fmt.Errorf("%w: index %d", errors.ErrJournalNotFound, index)
		}
		return s.patch(ctx, index, mut)
	})
}

// PatchByID applies mut to the entry with the given id.
func (s *Store) PatchByID(ctx context.Context, id string, mut Mutator) error {
	return s.do(ctx, func() error {
		index, ok := s.ids[id]
		if !ok {
			return fmt.Errorf("%w: id %s", errors.ErrJournalNotFound, id)
		}
		return s.patch(ctx, index, mut)
	})
}

func (s *Store) patch(ctx context.Context, index int, mut Mutator) error {
	prev := s.records[index]
	rec := prev.Clone()
	mut(&rec)
	rec.ID = prev.ID
	rec.CreatedAt = prev.CreatedAt
	if prev.RemoteSynced {
		rec.RemoteSynced = true
	}

	next := make([]models.SubmissionRecord, len(s.records))
	copy(next, s.records)
	next[index] = rec
	return s.commit(ctx, "patch", next)
}

// Purge removes the entries with the given ids. Remaining entries keep
// their ids and relative order; their indices shift down.
func (s *Store) Purge(ctx context.Context, ids []string) (int, error) {
	removed := 0
	err := s.do(ctx, func() error {
		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		next := make([]models.SubmissionRecord, 0, len(s.records))
		for _, rec := range s.records {
			if _, ok := drop[rec.ID]; ok {
				continue
			}
			next = append(next, rec)
		}
		removed = len(s.records) - len(next)
		if removed == 0 {
			return nil
		}
		if err := s.commit(ctx, "purge", next); err != nil {
			removed = 0
			return err
		}
		s.ids = make(map[string]int, len(next))
		for i, rec := range next {
			s.ids[rec.ID] = i
		}
		return nil
	})
	return removed, err
}

// commit persists next and only then makes it the current state.
func (s *Store) commit(ctx context.Context, op string, next []models.SubmissionRecord) error {
	if err := s.backend.Save(ctx, &Snapshot{Version: snapshotVersion, Records: next}); err != nil {
		s.logger.Error("journal write failed", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
		return errors.NewStorageError(op, err)
	}
	s.records = next
	s.updateGauges()
	return nil
}

// ListUnsynced returns a copy of every entry not yet confirmed remotely.
func (s *Store) ListUnsynced(ctx context.Context) ([]models.JournalEntry, error) {
	return s.snapshot(ctx, func(rec models.SubmissionRecord) bool { return !rec.RemoteSynced })
}

// ListStale returns synced entries whose remote attachment cells need to
// be rewritten.
func (s *Store) ListStale(ctx context.Context) ([]models.JournalEntry, error) {
	return s.snapshot(ctx, func(rec models.SubmissionRecord) bool { return rec.RemoteSynced && rec.RemoteCellsStale })
}

// All returns a copy of every entry.
func (s *Store) All(ctx context.Context) ([]models.JournalEntry, error) {
	return s.snapshot(ctx, nil)
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (models.JournalEntry, error) {
	var entry models.JournalEntry
	err := s.do(ctx, func() error {
		index, ok := s.ids[id]
		if !ok {
			return fmt.Errorf("%w: id %s", errors.ErrJournalNotFound, id)
		}
		entry = models.JournalEntry{Index: index, SubmissionRecord: s.records[index].Clone()}
		return nil
	})
	return entry, err
}

func (s *Store) snapshot(ctx context.Context, keep func(models.SubmissionRecord) bool) ([]models.JournalEntry, error) {
	var out []models.JournalEntry
	err := s.do(ctx, func() error {
		out = make([]models.JournalEntry, 0, len(s.records))
		for i, rec := range s.records {
			if keep != nil && !keep(rec) {
				continue
			}
			out = append(out, models.JournalEntry{Index: i, SubmissionRecord: rec.Clone()})
		}
		return nil
	})
	return out, err
}

// Close stops the run loop and releases the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		err = s.backend.Close()
	})
	return err
}

func (s *Store) hasID(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Store) countUnsynced() int {
	n := 0
	for _, rec := range s.records {
		if !rec.RemoteSynced {
			n++
		}
	}
	return n
}

func (s *Store) updateGauges() {
	unsynced := s.countUnsynced()
	metrics.JournalEntries.WithLabelValues(strconv.FormatBool(false)).Set(float64(unsynced))
	metrics.JournalEntries.WithLabelValues(strconv.FormatBool(true)).Set(float64(len(s.records) - unsynced))
}
