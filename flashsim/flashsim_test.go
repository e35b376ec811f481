package flashsim

import (
	"bytes"
	"testing"
)

func wren(t *testing.T, d *Device) {
	t.Helper()
	if err := d.Xfer([]byte{0x06}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestProgramRequiresWriteEnable(t *testing.T) {
	d := New(8192, [3]byte{1, 2, 3})

	if err := d.Xfer([]byte{0x02, 0, 0, 0, 0x00}, nil); err != nil {
		t.Fatal(err)
	}
	if d.Bytes()[0] != 0xFF {
		t.Error("program without write enable modified memory")
	}

	wren(t, d)
	if err := d.Xfer([]byte{0x02, 0, 0, 0, 0xA5}, nil); err != nil {
		t.Fatal(err)
	}
	if d.Bytes()[0] != 0xA5 {
		t.Errorf("byte 0 is 0x%02x, want 0xA5", d.Bytes()[0])
	}
	if d.ProgramCount != 1 {
		t.Errorf("program count %d", d.ProgramCount)
	}
}

func TestProgramOnlyClearsBits(t *testing.T) {
	d := New(8192, [3]byte{1, 2, 3})

	wren(t, d)
	d.Xfer([]byte{0x02, 0, 0, 0, 0x0F}, nil)
	wren(t, d)
	d.Xfer([]byte{0x02, 0, 0, 0, 0xF0}, nil)

	if d.Bytes()[0] != 0x00 {
		t.Errorf("byte 0 is 0x%02x, want AND of both writes", d.Bytes()[0])
	}
}

func TestProgramWrapsWithinPage(t *testing.T) {
	d := New(8192, [3]byte{1, 2, 3})

	wren(t, d)
	// two bytes starting at the last byte of page 0 wrap to its start
	if err := d.Xfer([]byte{0x02, 0, 0, 0xFF, 0x11, 0x22}, nil); err != nil {
		t.Fatal(err)
	}
	if d.Bytes()[0xFF] != 0x11 || d.Bytes()[0x00] != 0x22 {
		t.Errorf("wrap wrote 0x%02x/0x%02x", d.Bytes()[0xFF], d.Bytes()[0x00])
	}
	if d.Bytes()[0x100] != 0xFF {
		t.Error("write leaked into the next page")
	}
}

func TestEraseSector(t *testing.T) {
	d := New(8192, [3]byte{1, 2, 3})
	for i := range d.Bytes() {
		d.Bytes()[i] = 0
	}

	wren(t, d)
	if err := d.Xfer([]byte{0x20, 0, 0x10, 0x23}, nil); err != nil { // inside sector 1
		t.Fatal(err)
	}

	if !bytes.Equal(d.Bytes()[:4096], make([]byte, 4096)) {
		t.Error("sector 0 touched")
	}
	for i := 4096; i < 8192; i++ {
		if d.Bytes()[i] != 0xFF {
			t.Fatalf("byte %d not erased", i)
		}
	}
}

func TestStickyBusyUntilReset(t *testing.T) {
	d := New(8192, [3]byte{1, 2, 3})
	d.StickyBusyErases = 1

	wren(t, d)
	d.Xfer([]byte{0x20, 0, 0, 0}, nil)

	var sr [1]byte
	d.Xfer([]byte{0x05}, sr[:])
	if sr[0]&1 == 0 {
		t.Fatal("busy flag not latched")
	}

	// reset must be armed first
	d.Xfer([]byte{0x99}, nil)
	d.Xfer([]byte{0x05}, sr[:])
	if sr[0]&1 == 0 {
		t.Fatal("unarmed reset cleared the latch")
	}

	d.Xfer([]byte{0x66}, nil)
	d.Xfer([]byte{0x99}, nil)
	d.Xfer([]byte{0x05}, sr[:])
	if sr[0]&1 != 0 {
		t.Error("reset did not clear the latch")
	}
}
