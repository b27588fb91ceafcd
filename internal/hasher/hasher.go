package hasher

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns the xxHash64 of data as hex, truncated to hexLen
// characters when 0 < hexLen < 16.
func ContentHash(data []byte, hexLen int) string {
	return truncate(xxhash.Sum64(data), hexLen)
}

func truncate(sum uint64, hexLen int) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], sum)
	full := hex.EncodeToString(b[:])
	if hexLen > 0 && hexLen < len(full) {
		return full[:hexLen]
	}
	return full
}
