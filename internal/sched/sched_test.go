package sched_test

import (
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/sched"
)

func entries(pids ...frame.PID) []sched.Entry {
	out := make([]sched.Entry, len(pids))
	for i, p := range pids {
		out[i] = sched.Entry{PID: p, TID: 0}
	}

	return out
}

func TestRoundRobinFairness(t *testing.T) {
	s := sched.New()

	want := entries(2, 3, 4)
	for _, e := range want {
		s.Add(e)
	}

	counts := map[frame.PID]int{}

	const rounds = 3000

	for i := 0; i < rounds; i++ {
		counts[s.Next().PID]++
	}

	for _, e := range want {
		got := counts[e.PID]
		low, high := rounds/3-int(0.3*float64(rounds/3)), rounds/3+int(0.3*float64(rounds/3))

		if got < low || got > high {
			t.Errorf("pid %d scheduled %d times, want in [%d,%d]", e.PID, got, low, high)
		}
	}
}

func TestNextReturnsIdleWhenEmpty(t *testing.T) {
	s := sched.New()

	if got := s.Next(); got != sched.Idle {
		t.Errorf("Next on empty ring = %s, want Idle", got)
	}
}

func TestBlockRemovesFromRotation(t *testing.T) {
	s := sched.New()

	a, b := sched.Entry{PID: 2}, sched.Entry{PID: 3}
	s.Add(a)
	s.Add(b)

	s.Block(a)

	for i := 0; i < 4; i++ {
		if got := s.Next(); got != b {
			t.Errorf("Next() = %s, want %s", got, b)
		}
	}
}

func TestWakeReaddsThread(t *testing.T) {
	s := sched.New()

	a := sched.Entry{PID: 2}
	s.Add(a)
	s.Block(a)

	if s.Runnable(a) {
		t.Fatalf("thread runnable after Block")
	}

	s.Wake(a)

	if !s.Runnable(a) {
		t.Errorf("thread not runnable after Wake")
	}
}
