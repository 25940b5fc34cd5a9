package frame_test

import (
	"errors"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/frame"
)

func TestAllocateFree(t *testing.T) {
	a := frame.New(4)

	f, err := a.Allocate(frame.PID(2))
	if err != nil {
		t.Fatalf("Allocate: %s", err)
	}

	owner, err := a.Owner(f)
	if err != nil {
		t.Fatalf("Owner: %s", err)
	}

	if owner != frame.PID(2) {
		t.Errorf("owner = %d, want 2", owner)
	}

	if err := a.Free(f, frame.PID(2)); err != nil {
		t.Fatalf("Free: %s", err)
	}

	owner, _ = a.Owner(f)
	if owner != frame.Free {
		t.Errorf("owner after Free = %d, want Free", owner)
	}
}

func TestFreeWrongOwnerFails(t *testing.T) {
	a := frame.New(1)

	f, _ := a.Allocate(frame.PID(2))

	err := a.Free(f, frame.PID(3))
	if !errors.Is(err, frame.ErrNotOwner) {
		t.Fatalf("Free by wrong owner: err = %v, want ErrNotOwner", err)
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	a := frame.New(2)

	if _, err := a.Allocate(frame.PID(2)); err != nil {
		t.Fatalf("Allocate 1: %s", err)
	}

	if _, err := a.Allocate(frame.PID(2)); err != nil {
		t.Fatalf("Allocate 2: %s", err)
	}

	if _, err := a.Allocate(frame.PID(2)); !errors.Is(err, frame.ErrOutOfMemory) {
		t.Fatalf("Allocate 3: err = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocateAtAlreadyOwnedFails(t *testing.T) {
	a := frame.New(4)

	if err := a.AllocateAt(1, frame.Kernel); err != nil {
		t.Fatalf("AllocateAt: %s", err)
	}

	if err := a.AllocateAt(1, frame.PID(2)); !errors.Is(err, frame.ErrOwned) {
		t.Fatalf("AllocateAt over owned: err = %v, want ErrOwned", err)
	}
}

func TestTransfer(t *testing.T) {
	a := frame.New(2)

	f, _ := a.Allocate(frame.PID(2))

	if err := a.Transfer(f, frame.PID(2), frame.PID(3)); err != nil {
		t.Fatalf("Transfer: %s", err)
	}

	owner, _ := a.Owner(f)
	if owner != frame.PID(3) {
		t.Errorf("owner after Transfer = %d, want 3", owner)
	}
}

func TestFrameConservation(t *testing.T) {
	const total = 16

	a := frame.New(total)

	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(frame.PID(2)); err != nil {
			t.Fatalf("Allocate: %s", err)
		}
	}

	free, owned, reserved := a.Invariant()
	if free+owned+reserved != total {
		t.Errorf("free(%d) + owned(%d) + reserved(%d) != total(%d)", free, owned, reserved, total)
	}
}

func TestFreeAllOnExit(t *testing.T) {
	a := frame.New(8)

	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(frame.PID(5)); err != nil {
			t.Fatalf("Allocate: %s", err)
		}
	}

	if n := a.FreeAll(frame.PID(5)); n != 3 {
		t.Errorf("FreeAll = %d, want 3", n)
	}

	free, owned, _ := a.Invariant()
	if owned != 0 || free != 8 {
		t.Errorf("after FreeAll: free=%d owned=%d, want free=8 owned=0", free, owned)
	}
}
