package schedule

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type Handle string

// Task is run once when its time is reached.
type Task func()

type Entry struct {
	Handle Handle
	FireAt time.Time
	Label  string
}

type item struct {
	Entry
	task  Task
	index int
	seq   uint64
}

type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].FireAt.Equal(q[j].FireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].FireAt.Before(q[j].FireAt)
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// Scheduler runs tasks at a wall-clock instant. Pending tasks are kept in a
// min-heap and a single timer is armed for the earliest one. Due tasks run
// in their own goroutine and are not retried.
type Scheduler struct {
	clock   clock.Clock
	lock    sync.Mutex
	queue   queue
	handles map[Handle]*item
	timer   *clock.Timer
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		clock:   c,
		handles: make(map[Handle]*item),
	}
}

// Schedule adds a task to be run at fireAt. A time in the past runs the task
// as soon as possible.
func (s *Scheduler) Schedule(label string, fireAt time.Time, task Task) Handle {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.seq++
	it := &item{
		Entry: Entry{
			Handle: Handle(uuid.NewString()),
			FireAt: fireAt,
			Label:  label,
		},
		task: task,
		seq:  s.seq,
	}
	if s.stopped {
		return it.Handle
	}
	heap.Push(&s.queue, it)
	s.handles[it.Handle] = it
	s.arm()
	return it.Handle
}

// Cancel removes a pending task. It returns false if the task already fired,
// was canceled or never existed.
func (s *Scheduler) Cancel(h Handle) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	it, ok := s.handles[h]
	if !ok {
		return false
	}
	delete(s.handles, h)
	heap.Remove(&s.queue, it.index)
	s.arm()
	return true
}

func (s *Scheduler) Pending() []Entry {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries := make([]Entry, 0, len(s.queue))
	for _, it := range s.queue {
		entries = append(entries, it.Entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FireAt.Before(entries[j].FireAt)
	})
	return entries
}

// Stop drops every pending task and waits for the running ones to return.
// It must not be called from a task.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	s.handles = make(map[Handle]*item)
	s.lock.Unlock()
	s.running.Wait()
}

// arm must be called with the lock held.
func (s *Scheduler) arm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.queue) == 0 || s.stopped {
		return
	}
	wait := s.queue[0].FireAt.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	s.timer = s.clock.AfterFunc(wait, s.fire)
}

func (s *Scheduler) fire() {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return
	}
	now := s.clock.Now()
	var due []*item
	for len(s.queue) > 0 && !s.queue[0].FireAt.After(now) {
		it := heap.Pop(&s.queue).(*item)
		delete(s.handles, it.Handle)
		due = append(due, it)
	}
	s.running.Add(len(due))
	s.arm()
	s.lock.Unlock()

	for _, it := range due {
		go func(task Task) {
			defer s.running.Done()
			task()
		}(it.task)
	}
}
