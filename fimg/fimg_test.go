package fimg

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func TestChecksumReferenceVector(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC of check string = 0x%08x, want 0xCBF43926", got)
	}
}

func TestChecksumStreamingSplit(t *testing.T) {
	data := make([]byte, 300)
	rng := rand.New(rand.NewSource(1))
	rng.Read(data)

	want := Checksum(data)
	for split := 0; split <= len(data); split += 37 {
		h := NewChecksum()
		h.Update(data[:split])
		h.Update(data[split:])
		if got := h.CRC32(); got != want {
			t.Errorf("split at %d: 0x%08x, want 0x%08x", split, got, want)
		}
	}
}

func TestHeaderRoundtrip(t *testing.T) {
	h := Header{
		JEDEC:     [3]byte{0xEF, 0x40, 0x18},
		FlashSize: 16 * 1024 * 1024,
		ChunkSize: 4096,
		ImageSize: 16 * 1024 * 1024,
		CRC32:     0xDEADBEEF,
	}
	buf, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != HeaderSize {
		t.Fatalf("marshaled header is %d bytes, want %d", len(buf), HeaderSize)
	}

	var h2 Header
	if err := h2.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if h2 != h {
		t.Errorf("roundtrip mismatch: %+v != %+v", h2, h)
	}
}

func TestHeaderRejects(t *testing.T) {
	good := Header{JEDEC: [3]byte{1, 2, 3}, FlashSize: 4096, ChunkSize: 512, ImageSize: 4096, CRC32: 1}
	buf, _ := good.MarshalBinary()

	var h Header
	if err := h.UnmarshalBinary(buf[:10]); !errors.Is(err, ErrorTruncated) {
		t.Error("short header accepted:", err)
	}

	bad := append([]byte(nil), buf...)
	bad[0] ^= 0xFF
	if err := h.UnmarshalBinary(bad); !errors.Is(err, ErrorInvalidMagic) {
		t.Error("bad magic accepted:", err)
	}

	zeroed := Header{JEDEC: good.JEDEC, FlashSize: 4096, ChunkSize: 0, ImageSize: 4096}
	zb, _ := zeroed.MarshalBinary()
	if err := h.UnmarshalBinary(zb); !errors.Is(err, ErrorInvalidHeader) {
		t.Error("zero chunk size accepted:", err)
	}
}

func buildImage(t *testing.T, payload []byte, chunk uint32) []byte {
	t.Helper()
	crcVal := Checksum(payload)
	h := Header{
		JEDEC:     [3]byte{0xEF, 0x40, 0x10},
		FlashSize: uint32(len(payload)),
		ChunkSize: chunk,
		ImageSize: uint32(len(payload)),
		CRC32:     crcVal,
	}
	hb, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	out := append(hb, payload...)
	var trailer [TrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crcVal)
	return append(out, trailer[:]...)
}

func TestValidate(t *testing.T) {
	payload := make([]byte, 10000)
	rand.New(rand.NewSource(2)).Read(payload)

	for _, chunk := range []uint32{4096, 1000, 10000, 16384} {
		img := buildImage(t, payload, chunk)
		h, err := Validate(bytes.NewReader(img))
		if err != nil {
			t.Fatalf("chunk %d: valid image rejected: %v", chunk, err)
		}
		if h.ImageSize != uint32(len(payload)) {
			t.Errorf("chunk %d: header image size %d", chunk, h.ImageSize)
		}
	}
}

func TestValidateCorruptTrailer(t *testing.T) {
	img := buildImage(t, []byte("some flash content here"), 8)
	img[len(img)-1] ^= 0x01

	if _, err := Validate(bytes.NewReader(img)); !errors.Is(err, ErrorInvalidCRC) {
		t.Error("corrupt trailer accepted:", err)
	}
}

func TestValidateCorruptPayload(t *testing.T) {
	img := buildImage(t, make([]byte, 5000), 512)
	img[HeaderSize+1234] ^= 0x80

	if _, err := Validate(bytes.NewReader(img)); !errors.Is(err, ErrorInvalidCRC) {
		t.Error("corrupt payload accepted:", err)
	}
}

func TestValidateTruncated(t *testing.T) {
	img := buildImage(t, make([]byte, 5000), 512)

	if _, err := Validate(bytes.NewReader(img[:len(img)-2])); !errors.Is(err, ErrorTruncated) {
		t.Error("truncated trailer accepted:", err)
	}
	if _, err := Validate(bytes.NewReader(img[:HeaderSize+100])); !errors.Is(err, ErrorTruncated) {
		t.Error("truncated payload accepted:", err)
	}
}

func TestDeviceChecksum(t *testing.T) {
	mem := make([]byte, 8192)
	rand.New(rand.NewSource(3)).Read(mem)
	read := func(addr uint32, buf []byte) error {
		copy(buf, mem[addr:])
		return nil
	}

	want := Checksum(mem)
	for _, chunk := range []uint32{4096, 1000, 8192} {
		got, err := DeviceChecksum(read, uint32(len(mem)), chunk)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("chunk %d: 0x%08x, want 0x%08x", chunk, got, want)
		}
	}

	if _, err := DeviceChecksum(read, 8192, 0); err == nil {
		t.Error("zero chunk size accepted")
	}
}
