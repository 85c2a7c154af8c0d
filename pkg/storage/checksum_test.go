package storage

import (
	"testing"
)

// TestCRC32CWireForm verifies the big-endian base64 encoding round-trips.
func TestCRC32CWireForm(t *testing.T) {
	values := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF}
	for _, v := range values {
		encoded := EncodeCRC32C(v)
		decoded, err := DecodeCRC32C(encoded)
		if err != nil {
			t.Fatalf("DecodeCRC32C(%q): %v", encoded, err)
		}
		if decoded != v {
			t.Errorf("round trip %d -> %q -> %d", v, encoded, decoded)
		}
	}
	if _, err := DecodeCRC32C("!!!"); err == nil {
		t.Error("DecodeCRC32C accepted invalid base64")
	}
	if _, err := DecodeCRC32C("aGVsbG8="); err == nil {
		t.Error("DecodeCRC32C accepted a 5-byte value")
	}
}

// TestCRC32C_KnownValue pins the checksum of a known input. The value is
// the Castagnoli CRC of "123456789".
func TestCRC32C_KnownValue(t *testing.T) {
	if got := crc32cUpdate(0, []byte("123456789")); got != 0xE3069283 {
		t.Errorf("crc32c(123456789) = %#x, want 0xE3069283", got)
	}
	// Incremental updates match one-shot computation.
	incremental := crc32cUpdate(crc32cUpdate(0, []byte("1234")), []byte("56789"))
	if incremental != 0xE3069283 {
		t.Errorf("incremental crc32c = %#x", incremental)
	}
}

// TestChecksumsFromHashHeader verifies the x-goog-hash parser.
func TestChecksumsFromHashHeader(t *testing.T) {
	crc := EncodeCRC32C(0xCAFEF00D)
	got := checksumsFromHashHeader("crc32c=" + crc + ", md5=aGVsbG8gd29ybGQ1NQ==")
	if got == nil || got.CRC32C == nil {
		t.Fatal("parser dropped crc32c")
	}
	if *got.CRC32C != 0xCAFEF00D {
		t.Errorf("crc32c = %#x", *got.CRC32C)
	}
	if len(got.MD5) == 0 {
		t.Error("parser dropped md5")
	}
	if checksumsFromHashHeader("unrelated=abc") != nil {
		t.Error("parser invented checksums")
	}
}
