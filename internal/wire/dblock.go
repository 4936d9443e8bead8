package wire

import "github.com/sanlockd/sanlockd/internal/sanlockerr"

// DBlock flag bits.
const (
	// FlagReleased marks that the host at this slot voluntarily gave up
	// ownership after another host committed it as owner (the
	// retraction path of the release algorithm).
	FlagReleased uint32 = 1 << 0
	// FlagRetract marks that an acquire may have left this host as
	// committed owner without the acquire itself observing success; the
	// release path must re-verify against the leader before clearing.
	FlagRetract uint32 = 1 << 1
)

// ModeBlock flag bits.
const (
	// FlagShared marks that the host holds (or is requesting) a shared,
	// non-exclusive lease on the resource.
	FlagShared uint32 = 1 << 0
)

// DBlockSize is the encoded size in bytes of a single host's Disk-Paxos
// scratch block.
const DBlockSize = 8 + 8 + 8 + 8 + 8 + 8 + 4 + 4

// ModeBlockSize is the encoded size in bytes of a mode block.
const ModeBlockSize = 4 + 8 + 4

// ModeBlockOffset is the fixed byte offset of a host's mode block within
// its dblock sector. The two are colocated so a phase-1 dblock write can
// preserve a shared-mode flag the host already holds without touching a
// separate sector (see the sh-preserving write path).
const ModeBlockOffset = 256

// DBlock is a single host's per-resource Disk-Paxos scratch block:
// Paxos acceptor state (mbal/bal) plus the proposed owner value (inp).
type DBlock struct {
	// Mbal is the highest ballot number this host has promised not to
	// go below.
	Mbal uint64
	// Bal is the ballot number at which Inp was committed by this host.
	Bal uint64
	// Inp, InpGeneration, InpTimestamp are the proposed owner's
	// (host_id, host_generation, timestamp).
	Inp           uint64
	InpGeneration uint64
	InpTimestamp  uint64
	Lver          uint64
	Flags         uint32

	Checksum uint32
}

// Empty reports whether this dblock carries no committed proposal.
func (d *DBlock) Empty() bool {
	return d.Inp == 0
}

// ModeBlock carries a host's shared-mode claim on a resource, written
// without running a ballot. Legal only when the leader is FREE or
// already owned in shared mode by every current holder.
type ModeBlock struct {
	Flags      uint32
	Generation uint64

	Checksum uint32
}

func (m *ModeBlock) Shared() bool {
	return m.Flags&FlagShared != 0
}

func encodeDBlock(buf []byte, d *DBlock) {
	off := 0
	byteOrder.PutUint64(buf[off:], d.Mbal)
	off += 8
	byteOrder.PutUint64(buf[off:], d.Bal)
	off += 8
	byteOrder.PutUint64(buf[off:], d.Inp)
	off += 8
	byteOrder.PutUint64(buf[off:], d.InpGeneration)
	off += 8
	byteOrder.PutUint64(buf[off:], d.InpTimestamp)
	off += 8
	byteOrder.PutUint64(buf[off:], d.Lver)
	off += 8
	byteOrder.PutUint32(buf[off:], d.Flags)
	off += 4
	d.Checksum = Checksum(buf[:off])
	byteOrder.PutUint32(buf[off:], d.Checksum)
}

func decodeDBlock(buf []byte) (*DBlock, error) {
	if len(buf) < DBlockSize {
		return nil, sanlockerr.New(sanlockerr.DBlockRead, "short dblock")
	}
	gotChecksum := byteOrder.Uint32(buf[DBlockSize-4:])
	wantChecksum := Checksum(buf[:DBlockSize-4])
	if gotChecksum != wantChecksum {
		return nil, sanlockerr.New(sanlockerr.DBlockChecksum, "dblock checksum mismatch")
	}
	d := &DBlock{}
	off := 0
	d.Mbal = byteOrder.Uint64(buf[off:])
	off += 8
	d.Bal = byteOrder.Uint64(buf[off:])
	off += 8
	d.Inp = byteOrder.Uint64(buf[off:])
	off += 8
	d.InpGeneration = byteOrder.Uint64(buf[off:])
	off += 8
	d.InpTimestamp = byteOrder.Uint64(buf[off:])
	off += 8
	d.Lver = byteOrder.Uint64(buf[off:])
	off += 8
	d.Flags = byteOrder.Uint32(buf[off:])
	off += 4
	d.Checksum = gotChecksum
	return d, nil
}

func encodeModeBlock(buf []byte, m *ModeBlock) {
	off := 0
	byteOrder.PutUint32(buf[off:], m.Flags)
	off += 4
	byteOrder.PutUint64(buf[off:], m.Generation)
	off += 8
	m.Checksum = Checksum(buf[:off])
	byteOrder.PutUint32(buf[off:], m.Checksum)
}

func decodeModeBlock(buf []byte) (*ModeBlock, error) {
	if len(buf) < ModeBlockSize {
		return nil, sanlockerr.New(sanlockerr.DBlockRead, "short mode block")
	}
	gotChecksum := byteOrder.Uint32(buf[ModeBlockSize-4:])
	wantChecksum := Checksum(buf[:ModeBlockSize-4])
	if gotChecksum != wantChecksum {
		return nil, sanlockerr.New(sanlockerr.DBlockChecksum, "mode block checksum mismatch")
	}
	m := &ModeBlock{}
	off := 0
	m.Flags = byteOrder.Uint32(buf[off:])
	off += 4
	m.Generation = byteOrder.Uint64(buf[off:])
	off += 8
	m.Checksum = gotChecksum
	return m, nil
}

// EncodeDBlockSector produces the full sector bytes for a host's dblock
// slot: the dblock at offset 0, the colocated mode block at
// ModeBlockOffset, and zeroed padding everywhere else.
func EncodeDBlockSector(sectorSize uint32, d *DBlock, m *ModeBlock) []byte {
	buf := make([]byte, sectorSize)
	encodeDBlock(buf[:DBlockSize], d)
	encodeModeBlock(buf[ModeBlockOffset:ModeBlockOffset+ModeBlockSize], m)
	return buf
}

// DecodeDBlockSector parses a host's dblock slot into its dblock and
// mode block halves. The two are decoded independently: a corrupt mode
// block does not invalidate a readable dblock and vice versa, since a
// phase-1 write that is sh-preserving only rewrites the dblock half.
func DecodeDBlockSector(buf []byte) (*DBlock, *ModeBlock, error, error) {
	d, dErr := decodeDBlock(buf[:min(len(buf), DBlockSize)])
	var m *ModeBlock
	var mErr error
	if len(buf) >= ModeBlockOffset+ModeBlockSize {
		m, mErr = decodeModeBlock(buf[ModeBlockOffset : ModeBlockOffset+ModeBlockSize])
	} else {
		mErr = sanlockerr.New(sanlockerr.DBlockRead, "sector too short for mode block")
	}
	return d, m, dErr, mErr
}
