// Package hashutil provides the content hashing primitives shared by the
// recorder and session layers: SHA-256 hex digests, the rolling checksum
// chain, and the frame hash key.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ChainSeed is the initial checksum-chain value before any output is recorded.
var ChainSeed = strings.Repeat("0", 64)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Tagged prefixes a hex digest with its algorithm name for log fields.
func Tagged(hexDigest string) string {
	return "sha256:" + hexDigest
}

// ChainNext advances the rolling checksum chain by one chunk digest.
//
// The chain is a hash of hashes over the ASCII concatenation of the previous
// chain value and the chunk digest, so the final value commits to both the
// content and the exact order of every chunk.
func ChainNext(chain, chunkHex string) string {
	return SHA256Hex([]byte(chain + chunkHex))
}

// FrameHashKey builds the deterministic key grouping frames by mode, geometry
// and seed. Missing geometry yields an "unknown" marker rather than zeros so
// downstream validators can tell "no geometry" from a 0x0 terminal.
func FrameHashKey(mode string, cols, rows int, seed int) string {
	if cols <= 0 || rows <= 0 {
		return fmt.Sprintf("%s-unknown-seed%d", mode, seed)
	}
	return fmt.Sprintf("%s-%dx%d-seed%d", mode, cols, rows, seed)
}
