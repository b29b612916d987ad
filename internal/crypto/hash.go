package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// HashBytes returns SHA-256 hash of the input data
func HashBytes(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// DoubleHashBytes returns double SHA-256 hash (Bitcoin-style)
func DoubleHashBytes(data []byte) []byte {
	return HashBytes(HashBytes(data))
}

// HashHex returns the lowercase hex SHA-256 of data
func HashHex(data []byte) string {
	return hex.EncodeToString(HashBytes(data))
}

// BlockPreimage builds the nonce-independent prefix of a block's hash input:
// prevHash ‖ unix-millis(timestamp) ‖ canonicalPayload
func BlockPreimage(prevHash string, timestamp time.Time, canonicalPayload []byte) []byte {
	ts := strconv.FormatInt(timestamp.UnixMilli(), 10)

	buf := make([]byte, 0, len(prevHash)+len(ts)+len(canonicalPayload)+20)
	buf = append(buf, prevHash...)
	buf = append(buf, ts...)
	buf = append(buf, canonicalPayload...)
	return buf
}

// HashBlock hashes a block preimage with the given nonce appended in decimal.
// The preimage slice is not modified.
func HashBlock(preimage []byte, nonce uint64) string {
	data := make([]byte, len(preimage), len(preimage)+20)
	copy(data, preimage)
	data = strconv.AppendUint(data, nonce, 10)
	return HashHex(data)
}
