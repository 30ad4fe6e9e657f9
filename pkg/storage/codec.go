package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/uhyunpark/mbp10/pkg/mbp"
)

// Key schema:
//
//	s:<8-byte-seq>  -> Snapshot (JSON)
//	m:run           -> run id of the replay that wrote the snapshots
//	m:last          -> last written seq
const (
	prefixSnapshot = "s:"
)

var (
	keyRun  = []byte("m:run")
	keyLast = []byte("m:last")
)

func seqBytes(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func snapshotKey(seq uint64) []byte {
	return append([]byte(prefixSnapshot), seqBytes(seq)...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeSnapshot(s mbp.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSnapshot(b []byte) (mbp.Snapshot, error) {
	var s mbp.Snapshot
	err := json.Unmarshal(b, &s)
	return s, err
}
