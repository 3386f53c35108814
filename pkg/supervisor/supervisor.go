// Package supervisor owns every background goroutine the orchestrator
// spawns. Jobs are tracked from spawn to completion, failures are captured
// and logged instead of vanishing, and an upper bound on in-flight jobs
// provides backpressure under pathological batch sizes.
package supervisor

import (
	"fmt"
	"sync"

	"github.com/entrhq/mantle/pkg/logging"
)

// DefaultLimit bounds simultaneously tracked jobs when no limit is given.
const DefaultLimit = 64

// Supervisor runs labelled background jobs under a concurrency bound.
type Supervisor struct {
	log   *logging.Logger
	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	active map[uint64]string // job id -> label
	nextID uint64
}

// New returns a supervisor tracking at most limit concurrent jobs.
func New(limit int, log *logging.Logger) *Supervisor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Supervisor{
		log:    log,
		slots:  make(chan struct{}, limit),
		active: make(map[uint64]string),
	}
}

// Spawn runs job in a tracked goroutine. When the in-flight bound is
// reached, Spawn blocks until a slot frees up rather than growing the job
// set without limit. The job's error (or panic) is logged with its label;
// it never crashes the process and never silently disappears.
func (s *Supervisor) Spawn(label string, job func() error) {
	s.slots <- struct{}{} // backpressure

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.active[id] = label
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("task %q panicked: %v", label, r)
			}
			s.mu.Lock()
			delete(s.active, id)
			s.mu.Unlock()
			<-s.slots
			s.wg.Done()
		}()

		if err := job(); err != nil {
			s.log.Errorf("task %q failed: %v", label, err)
		}
	}()
}

// ActiveCount returns the number of jobs currently tracked.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ActiveLabels returns the labels of all in-flight jobs, for diagnostics.
func (s *Supervisor) ActiveLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, 0, len(s.active))
	for _, l := range s.active {
		labels = append(labels, l)
	}
	return labels
}

// Wait blocks until every tracked job has completed.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// String describes the supervisor state for logs.
func (s *Supervisor) String() string {
	return fmt.Sprintf("supervisor(%d/%d active)", s.ActiveCount(), cap(s.slots))
}
