package timing

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSchedulerClosed is returned by Submit after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

// Task runs on a channel's worker goroutine with exclusive use of the
// channel's reply slot.
type Task func(ctx context.Context, slot *Slot)

// Slot holds a channel's one pending reply. It is owned by the channel's
// worker: Arm, Cancel, and the firing of the timer all happen on that
// goroutine, so whichever of firing and cancelling runs first wins and the
// other does nothing.
type Slot struct {
	timer    *time.Timer
	fire     func(ctx context.Context)
	onCancel func()
}

// Arm schedules fire after d, cancelling any reply already pending.
// onCancel, if not nil, runs if the reply is cancelled instead.
func (s *Slot) Arm(d time.Duration, fire func(ctx context.Context), onCancel func()) {
	s.Cancel()
	s.timer = time.NewTimer(d)
	s.fire = fire
	s.onCancel = onCancel
}

// Cancel drops the pending reply. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	onCancel := s.onCancel
	s.reset()
	if onCancel != nil {
		onCancel()
	}
	return true
}

// Pending reports whether a reply is armed.
func (s *Slot) Pending() bool {
	return s.timer != nil
}

func (s *Slot) expired() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

func (s *Slot) reset() {
	s.timer = nil
	s.fire = nil
	s.onCancel = nil
}

// Scheduler runs tasks on one goroutine per active channel, in submission
// order. Channels proceed independently. A worker with nothing queued and
// nothing pending exits after the idle timeout.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	buffer int
	idle   time.Duration

	mu      sync.Mutex
	closed  bool
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	channelID string
	inbox     chan Task
	queued    int // guarded by Scheduler.mu
	slot      Slot
}

// NewScheduler creates a scheduler whose workers stop when ctx is done or
// Close is called.
func NewScheduler(ctx context.Context, buffer int, idle time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		buffer:  buffer,
		idle:    idle,
		workers: make(map[string]*worker),
	}
}

// Submit queues task on the channel's worker, starting one if needed. It
// blocks while the channel's queue is full.
func (s *Scheduler) Submit(channelID string, task Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	w, ok := s.workers[channelID]
	if !ok {
		w = &worker{channelID: channelID, inbox: make(chan Task, s.buffer)}
		s.workers[channelID] = w
		s.wg.Add(1)
		go s.run(w)
	}
	w.queued++
	s.mu.Unlock()

	select {
	case w.inbox <- task:
		return nil
	case <-s.ctx.Done():
		s.mu.Lock()
		w.queued--
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
}

// Active returns the number of running channel workers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Drain waits until every task submitted before the call has run. Armed
// replies stay pending.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	channels := make([]string, 0, len(s.workers))
	for ch := range s.workers {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		err := s.Submit(ch, func(context.Context, *Slot) { wg.Done() })
		if err != nil {
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops every worker, cancelling pending replies, and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(w *worker) {
	defer s.wg.Done()
	idle := time.NewTimer(s.idle)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			w.slot.Cancel()
			s.remove(w)
			return
		case task := <-w.inbox:
			s.mu.Lock()
			w.queued--
			s.mu.Unlock()
			task(s.ctx, &w.slot)
		case <-w.slot.expired():
			fire := w.slot.fire
			w.slot.reset()
			fire(s.ctx)
		case <-idle.C:
			if !w.slot.Pending() && s.retire(w) {
				return
			}
		}
		idle.Reset(s.idle)
	}
}

// retire removes an idle worker unless a task is on its way.
func (s *Scheduler) retire(w *worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.queued > 0 {
		return false
	}
	delete(s.workers, w.channelID)
	return true
}

func (s *Scheduler) remove(w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers[w.channelID] == w {
		delete(s.workers, w.channelID)
	}
}
