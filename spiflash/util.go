package spiflash

func addr24(op byte, addr uint32) [4]byte {
	return [4]byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// PageRemain returns how many bytes can be programmed at addr before the
// write would cross into the next page.
func PageRemain(addr uint32) uint32 {
	return PageSize - addr&(PageSize-1)
}
