// Package sched implements the round-robin scheduler: a ring of runnable
// (pid, tid) pairs and a cursor, generalized from a cooperative for-select
// run loop that runs one machine until halted to one that picks the next
// runnable thread.
package sched

import (
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

// Entry identifies one schedulable thread.
type Entry struct {
	PID frame.PID
	TID uint8
}

func (e Entry) String() string {
	return fmt.Sprintf("(pid=%d,tid=%d)", e.PID, e.TID)
}

// IdlePID is the reserved idle context's process, run when nothing else is
// runnable; it is the kernel process, reserved PID 1, used for bookkeeping
// and for the idle context.
const IdlePID = frame.PID(1)

var Idle = Entry{PID: IdlePID, TID: 0}

// Scheduler holds the runnable ring and a cursor into it. Entries are
// appended in the order threads become runnable and removed when they
// block or terminate; the cursor advances on every Next so no runnable
// thread is starved, ties broken by last scheduling order.
type Scheduler struct {
	ring   []Entry
	cursor int

	log *log.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{log: log.DefaultLogger()}
}

// Add inserts e into the runnable ring if it is not already present.
func (s *Scheduler) Add(e Entry) {
	for _, existing := range s.ring {
		if existing == e {
			return
		}
	}

	s.ring = append(s.ring, e)
}

// Remove takes e out of the runnable ring, called on Block or termination.
func (s *Scheduler) Remove(e Entry) {
	for i, existing := range s.ring {
		if existing == e {
			s.ring = append(s.ring[:i], s.ring[i+1:]...)

			if s.cursor > i {
				s.cursor--
			} else if s.cursor > len(s.ring) {
				s.cursor = 0
			}

			return
		}
	}
}

// Yield is Remove followed by Add: e keeps its runnable state but moves to
// the back of the ring, giving every other runnable thread a turn first.
func (s *Scheduler) Yield(e Entry) {
	s.Remove(e)
	s.Add(e)
}

// Block removes e from the runnable ring; the caller is responsible for
// recording why in the thread table (internal/process.Thread.State).
func (s *Scheduler) Block(e Entry) {
	s.Remove(e)
}

// Wake adds e back to the runnable ring.
func (s *Scheduler) Wake(e Entry) {
	s.Add(e)
}

// Next advances the cursor and returns the next runnable thread, or Idle if
// the ring is empty.
func (s *Scheduler) Next() Entry {
	if len(s.ring) == 0 {
		return Idle
	}

	e := s.ring[s.cursor%len(s.ring)]
	s.cursor = (s.cursor + 1) % len(s.ring)

	return e
}

// Len returns the number of runnable threads.
func (s *Scheduler) Len() int { return len(s.ring) }

// Runnable reports whether e is currently in the runnable ring.
func (s *Scheduler) Runnable(e Entry) bool {
	for _, existing := range s.ring {
		if existing == e {
			return true
		}
	}

	return false
}
