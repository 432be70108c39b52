package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	charsetLen = len(charset)

	mu  sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}

	//nolint:gosec // request IDs are not security-critical
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// String returns a random identifier of the given length, suitable for
// correlating requests and channel registrations within one client instance.
func String(length int) string {
	buf := make([]byte, length)

	mu.Lock()
	for i := range buf {
		buf[i] = charset[rng.IntN(charsetLen)]
	}
	mu.Unlock()

	return string(buf)
}
