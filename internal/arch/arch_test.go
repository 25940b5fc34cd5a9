package arch_test

import (
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/arch"
)

func TestContextSaveRestore(t *testing.T) {
	var ctx arch.Context

	var gpr [arch.NumGPR]uint32
	gpr[0] = 0xdead_beef

	ctx.Save(gpr, 0x4000_1000, 0x8010_0000, arch.StatusUser|arch.StatusInterruptEn)

	rgpr, pc, sp, status := ctx.Restore()

	if rgpr[0] != 0xdead_beef {
		t.Errorf("x1 = %#x, want 0xdead_beef", rgpr[0])
	}

	if pc != 0x4000_1000 {
		t.Errorf("pc = %#x", pc)
	}

	if sp != 0x8010_0000 {
		t.Errorf("sp = %#x", sp)
	}

	if !status.InterruptsEnabled() || status.Privileged() {
		t.Errorf("status = %s, want user with interrupts enabled", status)
	}
}

func TestContextRegZeroIsHardwired(t *testing.T) {
	var ctx arch.Context

	ctx.SetReg(0, 0xffff_ffff)

	if got := ctx.Reg(0); got != 0 {
		t.Errorf("Reg(0) = %#x, want 0", got)
	}
}

func TestContextRegRoundTrip(t *testing.T) {
	var ctx arch.Context

	ctx.SetReg(5, 0x1234)

	if got := ctx.Reg(5); got != 0x1234 {
		t.Errorf("Reg(5) = %#x, want 0x1234", got)
	}
}
