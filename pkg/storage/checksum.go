package storage

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// castagnoli is the CRC32C polynomial table used by the storage service.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// crc32cUpdate folds more data into a running CRC32C.
func crc32cUpdate(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}

// EncodeCRC32C renders the checksum the way the JSON API expects: the
// big-endian bytes of the value, base64-encoded.
func EncodeCRC32C(v uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return base64.StdEncoding.EncodeToString(buf[:])
}

// DecodeCRC32C parses the base64 big-endian wire form.
func DecodeCRC32C(s string) (uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid crc32c %q: %w", s, err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("invalid crc32c %q: want 4 bytes, got %d", s, len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// checksumsFromHashHeader parses the x-goog-hash header, a comma-separated
// list of {alg}={base64} entries.
func checksumsFromHashHeader(header string) *Checksums {
	out := &Checksums{}
	found := false
	for _, entry := range strings.Split(header, ",") {
		alg, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		switch alg {
		case "crc32c":
			if v, err := DecodeCRC32C(value); err == nil {
				out.CRC32C = &v
				found = true
			}
		case "md5":
			if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
				out.MD5 = raw
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return out
}
