package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

// ErrStopped is returned when scheduling on a stopped Scheduler.
var ErrStopped = errors.New("scheduler is stopped")

// job is one pending run
type job struct {
	name  string
	due   time.Time
	run   func()
	index int
}

// queue is a min-heap of jobs ordered by due time
type queue []*job

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}

// Scheduler runs named jobs at wall-clock times. Scheduling a name that is
// already pending replaces the pending run.
type Scheduler struct {
	clock   clock.Clock
	mu      sync.Mutex
	pending queue
	byName  map[string]*job
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
	loopWg  sync.WaitGroup
	runWg   sync.WaitGroup
}

// New creates a scheduler driven by clk. A nil clock means wall time.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Scheduler{
		clock:  clk,
		byName: make(map[string]*job),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start launches the dispatch loop
func (s *Scheduler) Start() {
	s.loopWg.Add(1)
	go s.loop()
}

// Stop halts dispatching and waits for jobs already running to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.loopWg.Wait()
	s.runWg.Wait()
}

// Schedule arranges for run to be called at due
func (s *Scheduler) Schedule(name string, due time.Time, run func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.byName[name]; ok {
		heap.Remove(&s.pending, existing.index)
	}

	j := &job{name: name, due: due, run: run}
	heap.Push(&s.pending, j)
	s.byName[name] = j

	if s.pending[0] == j {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel drops a pending job. It reports whether one was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byName[name]
	if !ok {
		return false
	}
	heap.Remove(&s.pending, j.index)
	delete(s.byName, name)
	return true
}

// Pending returns the number of jobs waiting to run
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName)
}

// NextRun returns the due time of the named job
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byName[name]
	if !ok {
		return time.Time{}, false
	}
	return j.due, true
}

func (s *Scheduler) loop() {
	defer s.loopWg.Done()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.pending.Len() > 0 {
			wait = s.pending[0].due.Sub(s.clock.Now())
			if wait <= 0 {
				j := heap.Pop(&s.pending).(*job)
				delete(s.byName, j.name)
				s.runWg.Add(1)
				go func() {
					defer s.runWg.Done()
					j.run()
				}()
				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		timer := s.clock.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}
