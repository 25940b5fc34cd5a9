// Package bootinfo parses the kernel-argument blob handed to the kernel by
// the stage-1 loader: a linear sequence of tagged records. Generalized from
// reading a binary format once at startup with encoding/binary against a
// bytes.Reader for a two-field (origin, code) object, to a tagged,
// variable-payload record stream.
package bootinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/log"
)

// Tag identifies one record kind. Tags are four ASCII characters
// interpreted little-endian as a 32-bit word.
type Tag uint32

func tag(s string) Tag {
	return Tag(binary.LittleEndian.Uint32([]byte(s)))
}

var (
	TagXArg = tag("XArg")
	TagMREx = tag("MREx")
	TagXKrn = tag("XKrn")
	TagInit = tag("Init")
	TagBflg = tag("Bflg")
)

func (t Tag) String() string {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(t))

	return string(b)
}

var (
	ErrMalformed    = errors.New("malformed kernel argument blob")
	ErrMissingTag   = errors.New("required tag missing")
	ErrTruncated    = errors.New("blob truncated")
)

// MemoryRegion is one entry from the MREx tag: an additional memory region
// beyond main RAM, tagged by kind (e.g. reserved, device).
type MemoryRegion struct {
	Base   uint32
	Length uint32
	Kind   Tag
}

// InitProcess is one entry from the Init tag: an initial process image the
// kernel must construct a process and main thread for at boot.
type InitProcess struct {
	LoadAddr  uint32
	Length    uint32
	TextVirt  uint32
	DataVirt  uint32
	BSSLength uint32
	Entry     uint32
}

// Platform identifies the target ISA named by XArg, so the same blob format
// serves both RISC-V and ARMv7-A targets.
type Platform uint32

const (
	PlatformRISCV32 Platform = iota
	PlatformARMv7A
)

// BootFlags are the decoded bits of the Bflg tag.
type BootFlags uint32

const (
	FlagNoCopy BootFlags = 1 << iota
	FlagAbsoluteLoad
	FlagDebug
)

func (f BootFlags) NoCopy() bool       { return f&FlagNoCopy != 0 }
func (f BootFlags) AbsoluteLoad() bool { return f&FlagAbsoluteLoad != 0 }
func (f BootFlags) Debug() bool        { return f&FlagDebug != 0 }

// Args is the fully-parsed kernel argument blob.
type Args struct {
	Version     uint32
	MainRAMBase uint32
	MainRAMLen  uint32
	Platform    Platform

	Regions []MemoryRegion

	KernelLoadAddr uint32
	KernelDataLen  uint32
	KernelTextVirt uint32
	KernelDataVirt uint32
	KernelBSSLen   uint32
	KernelEntry    uint32

	Init []InitProcess

	Flags BootFlags
}

const recordHeaderLen = 8 // 4-byte tag, 2-byte length in words, 2-byte reserved.

// Parse reads a kernel argument blob record by record. A record whose
// declared length runs past the end of the blob is rejected with
// ErrTruncated. The total length carried in the XArg record is read but not
// compared with the blob's size, and bytes after the last record are parsed
// as further records (unknown tags are skipped), so an overlength blob is
// not rejected.
func Parse(b []byte) (*Args, error) {
	logger := log.DefaultLogger()

	r := bytes.NewReader(b)

	var args Args

	seen := map[Tag]bool{}

	for r.Len() > 0 {
		if r.Len() < recordHeaderLen {
			return nil, fmt.Errorf("%w: incomplete record header", ErrTruncated)
		}

		var header struct {
			Tag      uint32
			Words    uint16
			Reserved uint16
		}

		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		payloadLen := int(header.Words) * 4
		if r.Len() < payloadLen {
			return nil, fmt.Errorf("%w: record %s declares %d bytes, %d remain",
				ErrTruncated, Tag(header.Tag), payloadLen, r.Len())
		}

		payload := make([]byte, payloadLen)
		if _, err := r.Read(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		t := Tag(header.Tag)
		seen[t] = true

		if err := parseRecord(&args, t, payload); err != nil {
			return nil, err
		}

		logger.Debug("bootinfo: parsed record", "tag", t, "bytes", payloadLen)
	}

	for _, required := range []Tag{TagXArg, TagXKrn} {
		if !seen[required] {
			return nil, fmt.Errorf("%w: %s", ErrMissingTag, required)
		}
	}

	return &args, nil
}

func parseRecord(args *Args, t Tag, payload []byte) error {
	r := bytes.NewReader(payload)

	switch t {
	case TagXArg:
		var rec struct {
			Length, Version, RAMBase, RAMLen, PlatformID uint32
		}

		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("%w: XArg: %w", ErrMalformed, err)
		}

		args.Version = rec.Version
		args.MainRAMBase = rec.RAMBase
		args.MainRAMLen = rec.RAMLen
		args.Platform = Platform(rec.PlatformID)

	case TagMREx:
		for r.Len() >= 12 {
			var rec struct{ Base, Length, Kind uint32 }

			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return fmt.Errorf("%w: MREx: %w", ErrMalformed, err)
			}

			args.Regions = append(args.Regions, MemoryRegion{Base: rec.Base, Length: rec.Length, Kind: Tag(rec.Kind)})
		}

	case TagXKrn:
		var rec struct {
			LoadAddr, DataLen, TextVirt, DataVirt, BSSLen, Entry uint32
		}

		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("%w: XKrn: %w", ErrMalformed, err)
		}

		args.KernelLoadAddr = rec.LoadAddr
		args.KernelDataLen = rec.DataLen
		args.KernelTextVirt = rec.TextVirt
		args.KernelDataVirt = rec.DataVirt
		args.KernelBSSLen = rec.BSSLen
		args.KernelEntry = rec.Entry

	case TagInit:
		for r.Len() >= 24 {
			var rec struct {
				LoadAddr, Length, TextVirt, DataVirt, BSSLen, Entry uint32
			}

			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return fmt.Errorf("%w: Init: %w", ErrMalformed, err)
			}

			args.Init = append(args.Init, InitProcess{
				LoadAddr: rec.LoadAddr, Length: rec.Length, TextVirt: rec.TextVirt,
				DataVirt: rec.DataVirt, BSSLength: rec.BSSLen, Entry: rec.Entry,
			})
		}

	case TagBflg:
		var flags uint32

		if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
			return fmt.Errorf("%w: Bflg: %w", ErrMalformed, err)
		}

		args.Flags = BootFlags(flags)

	default:
		// Unknown tags are ignored and may appear in any order; a future
		// loader revision may add tags this kernel doesn't need.
	}

	return nil
}
