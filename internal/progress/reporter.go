// Package progress turns a job's counters into an ordered, terminated
// sequence of snapshots that any number of subscribers can follow.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// Status is the lifecycle state carried by a snapshot
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no snapshot may follow one with this status
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusError
}

// Snapshot is one record of the progress sequence.
type Snapshot struct {
	Seq         uint64             `json:"seq"`
	Status      Status             `json:"status"`
	Total       int                `json:"total"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	CurrentTile *tiles.TileAddress `json:"current_tile"`
	Error       string             `json:"error"`
}

// Resolved is completed+failed+skipped
func (s Snapshot) Resolved() int {
	return s.Completed + s.Failed + s.Skipped
}

var (
	// ErrClosed is returned by Publish after the terminal snapshot.
	ErrClosed = errors.NewStd("progress sequence already terminated")
	// ErrRegression is returned when a snapshot would move a counter backwards.
	ErrRegression = errors.NewStd("progress counters must not decrease")
)

// Reporter holds the snapshot sequence of one job. Publish is expected to be
// called from a single goroutine; subscribers may read concurrently.
type Reporter struct {
	mu      sync.Mutex
	history []Snapshot
	notify  chan struct{} // closed and replaced on every publish
	done    chan struct{}
}

// NewReporter returns an empty, open sequence
func NewReporter() *Reporter {
	return &Reporter{
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Publish appends s with the next sequence number and wakes subscribers.
func (r *Reporter) Publish(s Snapshot) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.history); n > 0 {
		prev := r.history[n-1]
		if prev.Status.Terminal() {
			return Snapshot{}, ErrClosed
		}
		if s.Completed < prev.Completed || s.Failed < prev.Failed || s.Skipped < prev.Skipped {
			return Snapshot{}, errors.New(fmt.Errorf("%w: %+v after %+v", ErrRegression, s, prev)).
				Component("progress").
				Category(errors.CategoryState).
				Build()
		}
	}
	if s.Status == "" {
		s.Status = StatusRunning
	}
	if s.CurrentTile != nil {
		tile := *s.CurrentTile
		s.CurrentTile = &tile
	}
	s.Seq = uint64(len(r.history)) + 1
	r.history = append(r.history, s)

	close(r.notify)
	r.notify = make(chan struct{})
	if s.Status.Terminal() {
		close(r.done)
	}
	return s, nil
}

// Latest returns the most recent snapshot, if any
func (r *Reporter) Latest() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return Snapshot{}, false
	}
	return r.history[len(r.history)-1], true
}

// History returns a copy of every snapshot published so far
func (r *Reporter) History() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.history...)
}

// Done is closed once the terminal snapshot is published
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

// Subscribe returns a cursor positioned before the first snapshot.
// Every subscription observes the identical sequence.
func (r *Reporter) Subscribe() *Subscription {
	return &Subscription{r: r}
}

// Subscription is an independent read cursor; abandoning it has no effect on the job.
type Subscription struct {
	r    *Reporter
	next int
}

// Next blocks until the next snapshot is available. It returns io.EOF after
// the terminal snapshot has been delivered, or ctx.Err() if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (Snapshot, error) {
	for {
		s.r.mu.Lock()
		if s.next < len(s.r.history) {
			snap := s.r.history[s.next]
			s.next++
			s.r.mu.Unlock()
			return snap, nil
		}
		terminated := len(s.r.history) > 0 && s.r.history[len(s.r.history)-1].Status.Terminal()
		wait := s.r.notify
		s.r.mu.Unlock()

		if terminated {
			return Snapshot{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-wait:
		}
	}
}
