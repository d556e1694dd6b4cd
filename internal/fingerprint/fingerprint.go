// Package fingerprint computes cheap, non-cryptographic quickhash values
// for Datums and Tasks. Quickhash is explicitly not a content hash: it
// must be inexpensive even for large backing data (a file's mtime, not its
// bytes), at the cost of being collision-tolerant.
package fingerprint

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// String hashes s with murmur3, satisfying the identification law for
// MemoryDatum-style in-memory values rendered to their string form.
func String(s string) uint64 {
	return murmur3.Sum64([]byte(s))
}

// PathAndModTime hashes the (path, mtime) pair used by FileDatum, so the
// fingerprint changes exactly when the file is rewritten, without reading
// its contents.
func PathAndModTime(path string, modTimeUnixNano int64) uint64 {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(modTimeUnixNano))
	h := murmur3.New64()
	h.Write([]byte(path))
	h.Write(buf)
	return h.Sum64()
}

// Combine folds a sequence of fingerprints into one, used by DatumList and
// by Tasks combining identifier + body fingerprint.
func Combine(parts ...uint64) uint64 {
	h := murmur3.New64()
	buf := make([]byte, 8)
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf, p)
		h.Write(buf)
	}
	return h.Sum64()
}
