package arch_test

import (
	"errors"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/arch"
)

func TestPageTableMapUnmap(t *testing.T) {
	cases := []struct {
		name  string
		virt  uint32
		frame uint32
		flags arch.Flags
	}{
		{"code page", 0x0010_0000, 7, arch.FlagRead | arch.FlagExecute | arch.FlagUser},
		{"data page", 0x0020_1000, 42, arch.FlagRead | arch.FlagWrite | arch.FlagUser},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			pt := &arch.PageTable{}

			if err := pt.Map(tt.virt, tt.frame, tt.flags); err != nil {
				t.Fatalf("Map: %s", err)
			}

			frame, flags, ok := pt.Query(tt.virt)
			if !ok {
				t.Fatalf("Query: not mapped")
			}

			if frame != tt.frame {
				t.Errorf("frame = %d, want %d", frame, tt.frame)
			}

			if flags&tt.flags != tt.flags {
				t.Errorf("flags = %s, want %s", flags, tt.flags)
			}

			got, err := pt.Unmap(tt.virt)
			if err != nil {
				t.Fatalf("Unmap: %s", err)
			}

			if got != tt.frame {
				t.Errorf("Unmap frame = %d, want %d", got, tt.frame)
			}

			if _, _, ok := pt.Query(tt.virt); ok {
				t.Errorf("Query after Unmap: still mapped")
			}
		})
	}
}

func TestPageTableRefusesDoubleMap(t *testing.T) {
	pt := &arch.PageTable{}

	if err := pt.Map(0x1000, 1, arch.FlagRead); err != nil {
		t.Fatalf("Map: %s", err)
	}

	err := pt.Map(0x1000, 2, arch.FlagRead)
	if !errors.Is(err, arch.ErrMapped) {
		t.Fatalf("Map over existing: err = %v, want ErrMapped", err)
	}
}

func TestPageTableUnalignedRejected(t *testing.T) {
	pt := &arch.PageTable{}

	if err := pt.Map(0x1001, 1, arch.FlagRead); !errors.Is(err, arch.ErrUnaligned) {
		t.Fatalf("Map unaligned: err = %v, want ErrUnaligned", err)
	}
}

func TestInstallAddressSpaceBumpsGeneration(t *testing.T) {
	pt := &arch.PageTable{}
	gen := &arch.TLBGeneration{}

	before := gen.Count()
	arch.InstallAddressSpace(pt, gen)

	if gen.Count() != before+1 {
		t.Errorf("generation = %d, want %d", gen.Count(), before+1)
	}
}
