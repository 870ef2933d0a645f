package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	roomCharset   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ" // upper base36
)

var defaultSource = newSource()

func newSource() *source {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // ids are routing keys, not secrets
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (s *source) fromCharset(charset string, length int) string {
	buf := make([]byte, length)

	s.mut.Lock()
	for i := range buf {
		buf[i] = charset[s.rng.IntN(len(charset))]
	}
	s.mut.Unlock()

	return string(buf)
}

// NewRoomID returns an uppercase base-36 room identifier of the given length,
// the format users type in and share in links.
func NewRoomID(length int) string {
	return defaultSource.fromCharset(roomCharset, length)
}
