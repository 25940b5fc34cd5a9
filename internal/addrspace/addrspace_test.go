package addrspace_test

import (
	"errors"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/addrspace"
	"github.com/betrusted-io/xous-kernel/internal/arch"
)

func TestMapUnmap(t *testing.T) {
	s := addrspace.New(2)

	if err := s.Map(0x2000_0000, 7, arch.FlagRead|arch.FlagWrite|arch.FlagUser); err != nil {
		t.Fatalf("Map: %s", err)
	}

	phys, flags, ok := s.Query(0x2000_0000)
	if !ok || phys != 7 {
		t.Fatalf("Query = (%d, %s, %v), want (7, _, true)", phys, flags, ok)
	}

	got, err := s.Unmap(0x2000_0000)
	if err != nil {
		t.Fatalf("Unmap: %s", err)
	}

	if got != 7 {
		t.Errorf("Unmap frame = %d, want 7", got)
	}
}

func TestMapRefusesBusy(t *testing.T) {
	s := addrspace.New(2)

	if err := s.Map(0x1000, 1, arch.FlagRead); err != nil {
		t.Fatalf("Map: %s", err)
	}

	if err := s.Map(0x1000, 2, arch.FlagRead); !errors.Is(err, addrspace.ErrBusy) {
		t.Fatalf("Map over busy: err = %v, want ErrBusy", err)
	}
}

func TestMoveAtomic(t *testing.T) {
	src := addrspace.New(2)
	dst := addrspace.New(3)

	if err := src.Map(0x2000_0000, 9, arch.FlagRead|arch.FlagWrite); err != nil {
		t.Fatalf("Map: %s", err)
	}

	if err := src.Move(0x2000_0000, dst, 0x4000_0000, arch.FlagRead); err != nil {
		t.Fatalf("Move: %s", err)
	}

	if _, _, ok := src.Query(0x2000_0000); ok {
		t.Errorf("source still mapped after Move")
	}

	phys, _, ok := dst.Query(0x4000_0000)
	if !ok || phys != 9 {
		t.Errorf("dst Query = (%d, _, %v), want (9, _, true)", phys, ok)
	}
}

func TestMoveLeavesSourceOnFailure(t *testing.T) {
	src := addrspace.New(2)
	dst := addrspace.New(3)

	if err := src.Map(0x2000_0000, 9, arch.FlagRead); err != nil {
		t.Fatalf("Map src: %s", err)
	}

	if err := dst.Map(0x4000_0000, 1, arch.FlagRead); err != nil {
		t.Fatalf("Map dst: %s", err)
	}

	err := src.Move(0x2000_0000, dst, 0x4000_0000, arch.FlagRead)
	if !errors.Is(err, addrspace.ErrBusy) {
		t.Fatalf("Move onto busy dst: err = %v, want ErrBusy", err)
	}

	if _, _, ok := src.Query(0x2000_0000); !ok {
		t.Errorf("source unmapped despite failed Move")
	}
}
