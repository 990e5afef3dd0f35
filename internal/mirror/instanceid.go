package mirror

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// InstanceID returns a unique string for this process (hostname+pid+random).
// It tells apart mirrors that share a bucket.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}
