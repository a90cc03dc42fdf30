package store

import (
	"context"
	"sync"
	"time"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
	"github.com/systmms/secretgov/internal/persistence"
)

const flushTimeout = 30 * time.Second

// flusher writes snapshots off the caller's path. Only the newest pending
// snapshot is kept, and a snapshot older than the last one written is
// never saved, so storage never moves backwards.
type flusher struct {
	storage persistence.Storage
	logger  *logging.Logger
	metrics *metrics.Recorder

	mu      sync.Mutex
	pending *persistence.Snapshot

	saveMu  sync.Mutex
	lastSeq uint64
	saved   bool
	held    error

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newFlusher(storage persistence.Storage, logger *logging.Logger, m *metrics.Recorder) *flusher {
	return &flusher{
		storage: storage,
		logger:  logger,
		metrics: m,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// schedule replaces the pending snapshot and wakes the worker.
func (f *flusher) schedule(snap *persistence.Snapshot) {
	f.mu.Lock()
	if f.pending == nil || f.pending.Seq < snap.Seq {
		f.pending = snap
	}
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *flusher) run() {
	defer close(f.done)
	for {
		select {
		case <-f.wake:
			f.drain()
		case <-f.quit:
			f.drain()
			return
		}
	}
}

func (f *flusher) drain() {
	f.mu.Lock()
	snap := f.pending
	f.pending = nil
	f.mu.Unlock()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	// Failures are already logged and counted by save.
	_ = f.save(ctx, snap)
}

// save writes snap unless a newer snapshot has already been written.
// Errors are logged as warnings and returned for synchronous callers.
func (f *flusher) save(ctx context.Context, snap *persistence.Snapshot) error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	if f.held != nil {
		f.logger.Warn("Not persisting snapshot %d: stored metadata could not be loaded (%v)", snap.Seq, f.held)
		return nil
	}
	if f.saved && snap.Seq < f.lastSeq {
		f.logger.Debug("Skipping stale snapshot %d (last written %d)", snap.Seq, f.lastSeq)
		return nil
	}

	if err := f.storage.Save(ctx, snap); err != nil {
		f.metrics.RecordFlush(false)
		f.logger.Warn("Failed to persist secret metadata (seq %d): %v", snap.Seq, err)
		return dserrors.Persistence("flush", err)
	}
	f.metrics.RecordFlush(true)
	f.lastSeq = snap.Seq
	f.saved = true
	f.logger.Debug("Persisted snapshot %d (%d secrets, %d access log entries)", snap.Seq, len(snap.Secrets), len(snap.AccessLogs))
	return nil
}

// hold stops every later save. Storage whose contents could not be read
// must not be overwritten with a partial view of the state.
func (f *flusher) hold(cause error) {
	f.saveMu.Lock()
	f.held = cause
	f.saveMu.Unlock()
}

// stop drains any pending snapshot and waits for the worker to exit.
func (f *flusher) stop() {
	f.stopOnce.Do(func() { close(f.quit) })
	<-f.done
}
