package spiflash

import (
	"time"

	"github.com/pkg/errors"
)

// XferFunc performs one chip-select-framed SPI transaction: out is sent,
// then len(in) bytes are clocked back.
type XferFunc func(out []byte, in []byte) error

const (
	PageSize   = 256
	SectorSize = 4096
)

const (
	cmdWriteEnable  = 0x06
	cmdWriteDisable = 0x04
	cmdReadSR1      = 0x05
	cmdReadSR2      = 0x35
	cmdWriteSR      = 0x01
	cmdRead         = 0x03
	cmdPageProgram  = 0x02
	cmdSectorErase  = 0x20
	cmdJEDECID      = 0x9F
	cmdResetEnable  = 0x66
	cmdReset        = 0x99
	cmdUnprotect    = 0x98
	cmdResume       = 0x7A
)

var (
	ErrBusFault = errors.New("flash bus fault")
	ErrTimeout  = errors.New("flash busy timeout")
)

type Flash struct {
	xfer XferFunc

	maxTransfer int

	programTimeout    time.Duration
	eraseTimeout      time.Duration
	eraseRetryTimeout time.Duration
	unprotectTimeout  time.Duration

	LogFunc func(format string, params ...any)
}

func New(xfer XferFunc) *Flash {
	return &Flash{
		xfer: xfer,

		maxTransfer: 4096,

		programTimeout:    10 * time.Second,
		eraseTimeout:      2 * time.Second,
		eraseRetryTimeout: 3 * time.Second,
		unprotectTimeout:  200 * time.Millisecond,
	}
}

func (f *Flash) log(format string, params ...any) {
	if f.LogFunc != nil {
		f.LogFunc(format, params...)
	}
}

// Init resets the device and clears its protection bits. Protection state
// is not reliably idempotent across resets, so EraseSector clears it again
// before every erase.
func (f *Flash) Init() error {
	if err := f.softReset(); err != nil {
		return err
	}
	return f.globalUnprotect()
}

func (f *Flash) cmd1(op byte) error {
	return f.xfer([]byte{op}, nil)
}

func (f *Flash) writeEnable() error {
	return f.cmd1(cmdWriteEnable)
}

func (f *Flash) statusRead(op byte) (uint8, error) {
	var result [1]byte
	err := f.xfer([]byte{op}, result[:])
	return result[0], err
}

func (f *Flash) statusPair() (uint8, uint8) {
	sr1, _ := f.statusRead(cmdReadSR1)
	sr2, _ := f.statusRead(cmdReadSR2)
	return sr1, sr2
}

func (f *Flash) waitIdle(maxDuration time.Duration) error {
	timeout := time.Now().Add(maxDuration)
	for {
		status, err := f.statusRead(cmdReadSR1)
		if err != nil {
			return errors.Wrap(ErrBusFault, err.Error())
		}
		if status&1 == 0 {
			return nil
		}
		if !time.Now().Before(timeout) {
			return ErrTimeout
		}
	}
}

func (f *Flash) softReset() error {
	if err := f.cmd1(cmdResetEnable); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	time.Sleep(time.Millisecond)
	if err := f.cmd1(cmdReset); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// globalUnprotect tries the global unlock opcode and then explicitly clears
// the SR1/SR2 block-protect bits. The trailing wait is best effort, some
// devices never report busy for WRSR.
func (f *Flash) globalUnprotect() error {
	if err := f.cmd1(cmdUnprotect); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	time.Sleep(time.Millisecond)

	if err := f.writeEnable(); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	if err := f.xfer([]byte{cmdWriteSR, 0x00, 0x00}, nil); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	if err := f.waitIdle(f.unprotectTimeout); err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}

	f.statusPair()
	return nil
}

// ReadJEDEC returns the 3-byte device identity. An all-00 or all-FF answer
// means nothing is driving the bus.
func (f *Flash) ReadJEDEC() (ID, error) {
	var rx [3]byte
	if err := f.xfer([]byte{cmdJEDECID}, rx[:]); err != nil {
		return ID{}, errors.Wrap(ErrBusFault, err.Error())
	}

	if (rx[0] == 0x00 && rx[1] == 0x00 && rx[2] == 0x00) ||
		(rx[0] == 0xFF && rx[1] == 0xFF && rx[2] == 0xFF) {
		return ID{}, errors.Wrapf(ErrBusFault, "JEDEC ID read returned %02x%02x%02x", rx[0], rx[1], rx[2])
	}

	return ID{Manufacturer: rx[0], MemType: rx[1], CapacityCode: rx[2]}, nil
}

// Read streams a sequential read starting at addr. No bounds are imposed
// here, the caller must respect the device size.
func (f *Flash) Read(addr uint32, buf []byte) error {
	for len(buf) > 0 {
		n := len(buf)
		if n > f.maxTransfer {
			n = f.maxTransfer
		}

		cmd := addr24(cmdRead, addr)
		if err := f.xfer(cmd[:], buf[:n]); err != nil {
			return errors.Wrapf(ErrBusFault, "read at 0x%08x: %v", addr, err)
		}

		addr += uint32(n)
		buf = buf[n:]
	}
	return nil
}

// ProgramPage writes up to one page and blocks until the device reports
// not-busy. The data must not cross a page boundary. A timeout is not
// retried.
func (f *Flash) ProgramPage(addr uint32, data []byte) error {
	if len(data) == 0 || len(data) > PageSize {
		return errors.Errorf("program at 0x%08x: invalid length %d", addr, len(data))
	}
	if uint32(len(data)) > PageRemain(addr) {
		return errors.Errorf("program at 0x%08x: %d bytes cross page boundary", addr, len(data))
	}

	if err := f.writeEnable(); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}

	cmd := addr24(cmdPageProgram, addr)
	buf := append(cmd[:], data...)
	if err := f.xfer(buf, nil); err != nil {
		return errors.Wrapf(ErrBusFault, "program at 0x%08x: %v", addr, err)
	}

	if err := f.waitIdle(f.programTimeout); err != nil {
		return errors.Wrapf(err, "program at 0x%08x", addr)
	}
	return nil
}

// EraseSector erases the 4096-byte sector containing addr. On a first
// timeout the device is resumed, reset and unprotected, and the erase is
// retried once with an extended wait. A second timeout is fatal. This
// staging matches observed device behavior where protection silently
// re-engages after some fault conditions; do not simplify it.
func (f *Flash) EraseSector(addr uint32) error {
	cmd := addr24(cmdSectorErase, addr)

	if err := f.globalUnprotect(); err != nil {
		return err
	}

	if err := f.eraseOnce(cmd); err != nil {
		return err
	}

	err := f.waitIdle(f.eraseTimeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrTimeout) {
		return errors.Wrapf(err, "erase at 0x%08x", addr)
	}

	sr1, sr2 := f.statusPair()
	f.log("timeout erasing 0x%08x (SR1=0x%02x SR2=0x%02x), retrying after reset", addr, sr1, sr2)

	f.cmd1(cmdResume)
	if err := f.softReset(); err != nil {
		return err
	}
	if err := f.globalUnprotect(); err != nil {
		return err
	}

	if err := f.eraseOnce(cmd); err != nil {
		return err
	}

	if err := f.waitIdle(f.eraseRetryTimeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			sr1, sr2 = f.statusPair()
			return errors.Wrapf(ErrTimeout, "erase at 0x%08x after retry (SR1=0x%02x SR2=0x%02x)", addr, sr1, sr2)
		}
		return errors.Wrapf(err, "erase at 0x%08x after retry", addr)
	}
	return nil
}

func (f *Flash) eraseOnce(cmd [4]byte) error {
	if err := f.writeEnable(); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	if err := f.xfer(cmd[:], nil); err != nil {
		return errors.Wrap(ErrBusFault, err.Error())
	}
	return nil
}
