// Package flashsim is an in-memory behavioral model of an SPI NOR flash
// device. It implements the same transaction contract as a real bus, so the
// driver and everything above it can run against it unchanged. It is meant
// for tests and for dry-running workflows without hardware.
package flashsim

import "github.com/pkg/errors"

type Device struct {
	mem   []byte
	jedec [3]byte

	sr1        byte
	sr2        byte
	wel        bool
	busyLatch  bool
	resetArmed bool

	// StickyBusyErases makes the next N sector erases leave the busy flag
	// latched until a software reset, mimicking the protection-glitch
	// failure mode that the driver's staged retry exists for.
	StickyBusyErases int

	// FailReads makes every read transaction error at the bus level.
	FailReads bool

	// WeakBitAddr, when >= 0, models a weak cell: bit 0 at that address
	// always programs to 0 whatever data was written.
	WeakBitAddr int

	EraseCount   int
	ProgramCount int
	ResetCount   int
}

func New(size int, jedec [3]byte) *Device {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Device{mem: mem, jedec: jedec, WeakBitAddr: -1}
}

func (d *Device) Size() int { return len(d.mem) }

// Bytes exposes the backing array so tests can compare device content.
func (d *Device) Bytes() []byte { return d.mem }

func addr24(out []byte) uint32 {
	return uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3])
}

// Xfer decodes one chip-select-framed transaction, out first, then len(in)
// bytes clocked back.
func (d *Device) Xfer(out []byte, in []byte) error {
	if len(out) == 0 {
		return errors.New("flashsim: empty transaction")
	}

	switch out[0] {
	case 0x9F: // JEDEC ID
		copy(in, d.jedec[:])

	case 0x05: // read SR1
		if len(in) > 0 {
			status := d.sr1
			if d.busyLatch {
				status |= 0x01
			}
			in[0] = status
		}

	case 0x35: // read SR2
		if len(in) > 0 {
			in[0] = d.sr2
		}

	case 0x06: // write enable
		d.wel = true

	case 0x04: // write disable
		d.wel = false

	case 0x01: // write status registers
		if d.wel && len(out) >= 3 {
			d.sr1 = out[1]
			d.sr2 = out[2]
			d.wel = false
		}

	case 0x03: // read
		if d.FailReads {
			return errors.New("flashsim: injected read failure")
		}
		if len(out) < 4 {
			return errors.New("flashsim: short read command")
		}
		addr := addr24(out)
		if int(addr)+len(in) > len(d.mem) {
			return errors.Errorf("flashsim: read beyond end of device at 0x%08x", addr)
		}
		copy(in, d.mem[addr:])

	case 0x02: // page program
		if len(out) < 5 {
			return errors.New("flashsim: short program command")
		}
		if !d.wel {
			return nil // silently ignored without write enable, as on silicon
		}
		d.wel = false
		d.ProgramCount++
		addr := addr24(out)
		page := addr &^ (256 - 1)
		off := addr & (256 - 1)
		for i, b := range out[4:] {
			a := page + (off+uint32(i))&(256-1)
			if int(a) >= len(d.mem) {
				return errors.Errorf("flashsim: program beyond end of device at 0x%08x", a)
			}
			d.mem[a] &= b // programming only clears bits
			if int(a) == d.WeakBitAddr {
				d.mem[a] &^= 0x01
			}
		}

	case 0x20: // 4K sector erase
		if len(out) < 4 {
			return errors.New("flashsim: short erase command")
		}
		if !d.wel {
			return nil
		}
		d.wel = false
		d.EraseCount++
		if d.StickyBusyErases > 0 {
			d.StickyBusyErases--
			d.busyLatch = true
			return nil
		}
		sector := addr24(out) &^ (4096 - 1)
		if int(sector) >= len(d.mem) {
			return errors.Errorf("flashsim: erase beyond end of device at 0x%08x", sector)
		}
		end := int(sector) + 4096
		if end > len(d.mem) {
			end = len(d.mem)
		}
		for i := int(sector); i < end; i++ {
			d.mem[i] = 0xFF
		}

	case 0x66: // reset enable
		d.resetArmed = true

	case 0x99: // reset
		if d.resetArmed {
			d.busyLatch = false
			d.wel = false
			d.resetArmed = false
			d.ResetCount++
		}

	case 0x98: // global block-protect unlock
		d.sr1 &^= 0x7C

	case 0x7A: // resume suspended operation
		// nothing suspended in the model

	default:
		// unknown opcodes are ignored, as most devices do
	}

	return nil
}
