// Package addrspace manages per-process virtual address spaces, mediating
// every map/unmap/move against the process's page table, following a
// validate-then-commit idiom: validate the whole request before mutating
// any state, so a rejected operation never leaves a partial mapping behind.
package addrspace

import (
	"errors"
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/arch"
	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

var (
	ErrBusy      = errors.New("virtual address already mapped")
	ErrNotMapped = errors.New("virtual address not mapped")
)

// Space is one process's address space: a page table plus the TLB
// generation counter that Unmap and Move bump on change.
type Space struct {
	PID   frame.PID
	table arch.PageTable
	gen   arch.TLBGeneration

	log *log.Logger
}

// New creates an empty address space for pid.
func New(pid frame.PID) *Space {
	return &Space{PID: pid, log: log.DefaultLogger()}
}

// Map installs one page. It refuses to overwrite an existing valid leaf.
func (s *Space) Map(virt uint32, phys uint32, flags arch.Flags) error {
	err := s.table.Map(virt, phys, flags)
	if errors.Is(err, arch.ErrMapped) {
		return fmt.Errorf("%w: pid %d, virt %#08x", ErrBusy, s.PID, virt)
	} else if err != nil {
		return err
	}

	s.log.Debug("addrspace: mapped", "pid", s.PID, log.Addr("virt", virt), "phys", phys, "flags", flags)

	return nil
}

// Unmap removes a mapping and returns the frame it referenced. It
// invalidates cached translations for virt by bumping the space's TLB
// generation.
func (s *Space) Unmap(virt uint32) (uint32, error) {
	phys, err := s.table.Unmap(virt)
	if errors.Is(err, arch.ErrNotMapped) {
		return 0, fmt.Errorf("%w: pid %d, virt %#08x", ErrNotMapped, s.PID, virt)
	} else if err != nil {
		return 0, err
	}

	s.gen.Bump()

	s.log.Debug("addrspace: unmapped", "pid", s.PID, log.Addr("virt", virt))

	return phys, nil
}

// Query returns the frame and flags mapped at virt, if any.
func (s *Space) Query(virt uint32) (phys uint32, flags arch.Flags, ok bool) {
	return s.table.Query(virt)
}

// Move atomically transfers a mapping from this space to dst: unmaps from
// src, maps at dst with the given flags. Per the "Memory-message remapping"
// design note, this is performed as a single trap with interrupts disabled
// in a real kernel; here the two sub-operations are validated together
// before either one commits, so a failure on the destination half leaves
// the source mapping untouched.
func (s *Space) Move(srcVirt uint32, dst *Space, dstVirt uint32, flags arch.Flags) error {
	phys, srcFlags, ok := s.table.Query(srcVirt)
	if !ok {
		return fmt.Errorf("%w: pid %d, virt %#08x", ErrNotMapped, s.PID, srcVirt)
	}

	if _, _, ok := dst.table.Query(dstVirt); ok {
		return fmt.Errorf("%w: pid %d, virt %#08x", ErrBusy, dst.PID, dstVirt)
	}

	if _, err := s.table.Unmap(srcVirt); err != nil {
		return err
	}

	if err := dst.table.Map(dstVirt, phys, flags); err != nil {
		// Restore the source mapping; the move never partially commits.
		_ = s.table.Map(srcVirt, phys, srcFlags)
		return err
	}

	s.gen.Bump()
	dst.gen.Bump()

	s.log.Debug("addrspace: moved", "src_pid", s.PID, log.Addr("src_virt", srcVirt),
		"dst_pid", dst.PID, log.Addr("dst_virt", dstVirt))

	return nil
}

// Generation returns the current TLB invalidation count, for tests that
// assert unmap-before-remap ordering.
func (s *Space) Generation() uint64 { return s.gen.Count() }
