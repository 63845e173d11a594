package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// replicationIDLength is the length of a Redis replication ID in hex digits
const replicationIDLength = 40

// NewReplicationID derives a 40 hex digit replication ID from the start
// instant and the process id.
func NewReplicationID(start time.Time) string {
	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[:8], uint64(start.UnixNano()))
	binary.LittleEndian.PutUint64(seed[8:], uint64(os.Getpid()))

	var b strings.Builder
	digest := xxhash.New()
	for round := uint64(0); b.Len() < replicationIDLength; round++ {
		digest.Reset()
		digest.Write(seed[:])
		binary.Write(digest, binary.LittleEndian, round)
		fmt.Fprintf(&b, "%016x", digest.Sum64())
	}
	return b.String()[:replicationIDLength]
}
