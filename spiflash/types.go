package spiflash

import "fmt"

// ID is the raw 3-byte JEDEC identity, captured once and never modified.
type ID struct {
	Manufacturer byte
	MemType      byte
	CapacityCode byte
}

func (id ID) String() string {
	return fmt.Sprintf("%02x%02x%02x", id.Manufacturer, id.MemType, id.CapacityCode)
}

const (
	capacityCodeMin = 0x10
	capacityCodeMax = 0x20
)

// CapacityBytes maps a JEDEC capacity code to a byte count. The code is the
// log2 of the capacity in bits, only the common 0x10..0x20 range is
// considered meaningful; anything else reports false and the caller falls
// back to a configured default.
func CapacityBytes(code byte) (uint32, bool) {
	if code < capacityCodeMin || code > capacityCodeMax {
		return 0, false
	}
	bits := uint64(1) << code
	return uint32(bits / 8), true
}
