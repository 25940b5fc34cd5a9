package arch

// pagetable.go implements a two-level, software-walked page table shaped
// after Sv32: a 1024-entry root table, each entry optionally pointing at a
// 1024-entry leaf table, each leaf entry a (frame, flags) pair.

import (
	"errors"
	"fmt"
)

const (
	PageSize   = 4096
	PageShift  = 12
	EntryCount = 1024 // Entries per level, root or leaf.

	rootShift = PageShift + 10 // Bits 31:22 select the root entry.
	leafShift = PageShift      // Bits 21:12 select the leaf entry.
	indexMask = EntryCount - 1
)

// Flags describe the permissions and validity of a mapping.
type Flags uint8

const (
	FlagValid Flags = 1 << iota
	FlagRead
	FlagWrite
	FlagExecute
	FlagUser
	FlagShared
)

func (f Flags) Valid() bool  { return f&FlagValid != 0 }
func (f Flags) String() string {
	s := ""
	for _, pair := range []struct {
		f Flags
		c byte
	}{{FlagRead, 'r'}, {FlagWrite, 'w'}, {FlagExecute, 'x'}, {FlagUser, 'u'}, {FlagShared, 's'}} {
		if f&pair.f != 0 {
			s += string(pair.c)
		} else {
			s += "-"
		}
	}

	return s
}

// leaf is one page-table entry: a physical frame number and flags.
type leaf struct {
	frame uint32
	flags Flags
}

// PageTable is one process's (or the kernel's) root page table.
type PageTable struct {
	root [EntryCount]*[EntryCount]leaf
}

var (
	ErrUnaligned = errors.New("address not page-aligned")
	ErrNoTable   = errors.New("no intermediate table for address")
	ErrNotMapped = errors.New("address not mapped")
	ErrMapped    = errors.New("address already mapped")
)

func splitAddr(virt uint32) (rootIdx, leafIdx uint32) {
	rootIdx = (virt >> rootShift) & indexMask
	leafIdx = (virt >> leafShift) & indexMask

	return rootIdx, leafIdx
}

// AllocateTable installs a fresh, empty intermediate table for the root
// index covering virt. It is a caller's responsibility to have obtained the
// backing storage's frame from the page allocator; here, the backing store
// is the Go heap standing in for that frame, tracked by the process that
// owns this table (see internal/process and internal/frame for the
// accounting half of this contract).
func (pt *PageTable) AllocateTable(virt uint32) error {
	if virt%PageSize != 0 {
		return fmt.Errorf("%w: %#08x", ErrUnaligned, virt)
	}

	rootIdx, _ := splitAddr(virt)

	if pt.root[rootIdx] == nil {
		pt.root[rootIdx] = &[EntryCount]leaf{}
	}

	return nil
}

// Map installs a leaf entry, allocating its intermediate table on demand.
// It refuses to overwrite an existing valid leaf.
func (pt *PageTable) Map(virt uint32, frame uint32, flags Flags) error {
	if virt%PageSize != 0 {
		return fmt.Errorf("%w: %#08x", ErrUnaligned, virt)
	}

	if err := pt.AllocateTable(virt); err != nil {
		return err
	}

	rootIdx, leafIdx := splitAddr(virt)
	table := pt.root[rootIdx]

	if table[leafIdx].flags.Valid() {
		return fmt.Errorf("%w: %#08x", ErrMapped, virt)
	}

	table[leafIdx] = leaf{frame: frame, flags: flags | FlagValid}

	return nil
}

// Unmap removes a leaf entry and returns the frame it referenced.
func (pt *PageTable) Unmap(virt uint32) (uint32, error) {
	if virt%PageSize != 0 {
		return 0, fmt.Errorf("%w: %#08x", ErrUnaligned, virt)
	}

	rootIdx, leafIdx := splitAddr(virt)
	table := pt.root[rootIdx]

	if table == nil || !table[leafIdx].flags.Valid() {
		return 0, fmt.Errorf("%w: %#08x", ErrNotMapped, virt)
	}

	frame := table[leafIdx].frame
	table[leafIdx] = leaf{}

	return frame, nil
}

// Query returns the frame and flags mapped at virt, if any.
func (pt *PageTable) Query(virt uint32) (frame uint32, flags Flags, ok bool) {
	rootIdx, leafIdx := splitAddr(virt)

	table := pt.root[rootIdx]
	if table == nil || !table[leafIdx].flags.Valid() {
		return 0, 0, false
	}

	entry := table[leafIdx]

	return entry.frame, entry.flags, true
}

// TLBGeneration counts invalidations. It stands in for a hardware TLB shootdown
// counter: callers bump it whenever an Unmap or remap makes a cached
// translation stale, and tests assert ordering against it rather than
// against a real MMU.
type TLBGeneration struct {
	n uint64
}

func (g *TLBGeneration) Bump()          { g.n++ }
func (g *TLBGeneration) Count() uint64  { return g.n }

// InstallAddressSpace simulates programming satp with pt's root and
// flushing the TLB. In this software model there is no physical MMU to
// reprogram; installing is recorded by bumping gen so tests can observe
// that an install happened between two operations.
func InstallAddressSpace(pt *PageTable, gen *TLBGeneration) {
	_ = pt
	gen.Bump()
}
