package bootinfo_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/bootinfo"
)

// record appends one tagged record to buf: 4-byte tag, 2-byte length in
// 32-bit words, 2-byte reserved, payload.
func record(buf *bytes.Buffer, tag string, payload ...uint32) {
	buf.WriteString(tag)
	binary.Write(buf, binary.LittleEndian, uint16(len(payload)))
	binary.Write(buf, binary.LittleEndian, uint16(0))

	for _, w := range payload {
		binary.Write(buf, binary.LittleEndian, w)
	}
}

func minimalBlob() []byte {
	var buf bytes.Buffer

	record(&buf, "XArg", 0, 1, 0x2000_0000, 0x0100_0000, 0)
	record(&buf, "XKrn", 0x2000_0000, 0x1000, 0x8000_0000, 0x8010_0000, 0x2000, 0x8000_0000)
	record(&buf, "Init", 0x2010_0000, 0x4000, 0x1000_0000, 0x1010_0000, 0x1000, 0x1000_0000)
	record(&buf, "Bflg", uint32(bootinfo.FlagDebug))

	return buf.Bytes()
}

func TestParseMinimalBlob(t *testing.T) {
	args, err := bootinfo.Parse(minimalBlob())
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	if args.MainRAMBase != 0x2000_0000 || args.MainRAMLen != 0x0100_0000 {
		t.Errorf("RAM base/len = %#x/%#x", args.MainRAMBase, args.MainRAMLen)
	}

	if args.KernelEntry != 0x8000_0000 {
		t.Errorf("KernelEntry = %#x, want 0x8000_0000", args.KernelEntry)
	}

	if len(args.Init) != 1 || args.Init[0].Entry != 0x1000_0000 {
		t.Fatalf("Init = %+v", args.Init)
	}

	if !args.Flags.Debug() {
		t.Errorf("Flags.Debug() = false, want true")
	}
}

func TestParseMissingRequiredTag(t *testing.T) {
	var buf bytes.Buffer
	record(&buf, "Bflg", 0)

	_, err := bootinfo.Parse(buf.Bytes())
	if !errors.Is(err, bootinfo.ErrMissingTag) {
		t.Fatalf("Parse: err = %v, want ErrMissingTag", err)
	}
}

func TestParseTruncatedRecordRejected(t *testing.T) {
	var buf bytes.Buffer
	record(&buf, "XArg", 0, 1, 0, 0, 0)

	truncated := buf.Bytes()[:len(buf.Bytes())-4] // Drop the last declared word.

	_, err := bootinfo.Parse(truncated)
	if !errors.Is(err, bootinfo.ErrTruncated) {
		t.Fatalf("Parse: err = %v, want ErrTruncated", err)
	}
}

func TestParseMemoryRegions(t *testing.T) {
	var buf bytes.Buffer

	record(&buf, "XArg", 0, 1, 0x2000_0000, 0x0100_0000, 0)
	record(&buf, "MREx", 0xf000_0000, 0x1000, uint32(bootinfo.TagBflg))
	record(&buf, "XKrn", 0, 0, 0, 0, 0, 0)

	args, err := bootinfo.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	if len(args.Regions) != 1 || args.Regions[0].Base != 0xf000_0000 {
		t.Fatalf("Regions = %+v", args.Regions)
	}
}
