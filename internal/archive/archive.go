// Package archive exports settled approval requests as JSONL to long-term
// destinations. Terminal requests are never deleted from the store; the
// archive gives auditors a copy that survives database rotation.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/pairlock/internal/store"
)

// Destination is the interface for an archive target (S3, local file, etc.).
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations. Each run
// picks up the requests that settled since the previous one.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	since  time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that archives requests settled at or
// after since.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, since time.Time, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		since:        since,
	}
}

// Start begins periodic archiving. It runs an initial export immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.archiveOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.archiveOnce(ctx)
		}
	}
}

func (s *Scheduler) archiveOnce(ctx context.Context) {
	var buf bytes.Buffer
	count, latest, err := ExportJSONL(ctx, s.store, s.since, &buf)
	if err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}
	if count == 0 {
		return
	}
	data := buf.Bytes()

	failed := false
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed = true
			s.logger.Error("archive destination write failed", "destination", fmt.Sprintf("%d", i), "err", err)
		}
	}
	if failed {
		// Leave the watermark; the next run retries the same window.
		return
	}

	s.since = latest.Add(time.Nanosecond)
	s.logger.Info("archive completed", "requests", count, "destinations", len(s.destinations), "bytes", len(data))
}
