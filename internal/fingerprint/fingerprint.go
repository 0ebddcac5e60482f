// Package fingerprint turns raw ranking tables into typed entries and
// computes the content fingerprint used to detect unchanged tables.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// Compute returns the hex SHA-256 of a length-prefixed encoding of every
// entry's key, rank, canonical points and tracked attributes, in order.
// Reordering entries changes the fingerprint.
func Compute(entries []types.Entry, tracked []string) string {
	h := sha256.New()
	writeUint(h, uint64(len(entries)))
	for i := range entries {
		e := &entries[i]
		writeField(h, e.Key)
		writeField(h, types.FormatRank(e.Rank))
		writeField(h, types.FormatPoints(e.Points))
		for _, f := range tracked {
			if f == types.FieldPoints || f == types.FieldRank {
				continue
			}
			writeField(h, f)
			writeField(h, e.Attributes[f])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether the entries hash to the given fingerprint
func Equal(entries []types.Entry, tracked []string, fp string) bool {
	return fp != "" && Compute(entries, tracked) == fp
}

func writeField(h hash.Hash, s string) {
	writeUint(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeUint(h hash.Hash, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	h.Write(buf[:])
}
