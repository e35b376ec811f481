// Package spibus talks to the serial-attached SPI bridge adapter that holds
// the device under test. One bus transaction is one chip-select-framed SPI
// exchange:
//
//	host:   'X', out length (u16 BE), in length (u16 BE), out bytes
//	bridge: 'K', in bytes            on success
//	        'E', status byte         on failure
//
// The bridge asserts chip select for the whole exchange, so a single Xfer
// maps to a single flash command.
package spibus

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const (
	frameXfer = 'X'
	replyOK   = 'K'
	replyErr  = 'E'

	// MaxTransfer bounds one transaction: a 4 KiB data chunk plus command
	// and address overhead.
	MaxTransfer = 4096 + 8

	readTimeout = time.Second
)

var ErrBridge = errors.New("bridge protocol violation")

type Bus struct {
	port serial.Port
}

// Open connects to the bridge on the named serial port.
func Open(portName string, baud int) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open bridge port %s", portName)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set bridge read timeout")
	}
	return NewBus(port), nil
}

// NewBus wraps an already-open port. Tests hand it an in-memory port.
func NewBus(port serial.Port) *Bus {
	return &Bus{port: port}
}

func (b *Bus) Close() error {
	return b.port.Close()
}

// Xfer performs one SPI transaction: out is sent, then len(in) bytes are
// clocked back into in.
func (b *Bus) Xfer(out []byte, in []byte) error {
	if len(out)+len(in) > MaxTransfer {
		return errors.Errorf("transaction of %d bytes exceeds bridge limit %d", len(out)+len(in), MaxTransfer)
	}

	frame := make([]byte, 5, 5+len(out))
	frame[0] = frameXfer
	binary.BigEndian.PutUint16(frame[1:], uint16(len(out)))
	binary.BigEndian.PutUint16(frame[3:], uint16(len(in)))
	frame = append(frame, out...)

	if _, err := b.port.Write(frame); err != nil {
		return errors.Wrap(err, "bridge write")
	}

	var status [1]byte
	if err := b.readFull(status[:]); err != nil {
		return err
	}

	switch status[0] {
	case replyOK:
		return b.readFull(in)
	case replyErr:
		var code [1]byte
		if err := b.readFull(code[:]); err != nil {
			return err
		}
		return errors.Wrapf(ErrBridge, "bridge reported status 0x%02x", code[0])
	default:
		return errors.Wrapf(ErrBridge, "unexpected reply byte 0x%02x", status[0])
	}
}

// readFull loops over short serial reads. A zero-byte read means the port's
// read deadline passed with nothing received.
func (b *Bus) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := b.port.Read(buf[off:])
		if err != nil {
			return errors.Wrap(err, "bridge read")
		}
		if n == 0 {
			return errors.Wrapf(ErrBridge, "timeout with %d of %d bytes received", off, len(buf))
		}
		off += n
	}
	return nil
}
