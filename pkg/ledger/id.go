package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var ErrIDRandomOverflow = errors.New("ledger: id random bits overflow on monotonic increment")

// IDGenerator produces sortable 128-bit identifiers: 48 bits of millisecond timestamp
// above 80 random bits. Within one millisecond the random part is incremented, so
// successive ids are strictly increasing.
type IDGenerator struct {
	mu            sync.Mutex
	now           func() time.Time
	random        io.Reader
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewIDGenerator builds a generator over now and random; nil selects time.Now and crypto/rand.
func NewIDGenerator(now func() time.Time, random io.Reader) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &IDGenerator{now: now, random: random}
}

var defaultIDs = NewIDGenerator(nil, nil)

// ID returns the next identifier from the process-wide generator.
//
// ID panics if the system random source fails or 2**80 ids are requested within
// one millisecond. Use an IDGenerator and Next to handle those errors instead.
func ID() Uint128 {
	id, err := defaultIDs.Next()
	if err != nil {
		panic(err)
	}
	return id
}

// Next returns the next identifier.
func (g *IDGenerator) Next() (Uint128, error) {
	timestamp := uint64(g.now().UnixMilli())

	g.mu.Lock()
	if timestamp <= g.lastTimestamp {
		timestamp = g.lastTimestamp
	} else {
		var fresh [10]byte
		if _, err := io.ReadFull(g.random, fresh[:]); err != nil {
			g.mu.Unlock()
			return Uint128{}, fmt.Errorf("ledger: read id random bits: %w", err)
		}
		g.lastTimestamp = timestamp
		g.lastRandom = fresh
	}

	randomLo := binary.LittleEndian.Uint64(g.lastRandom[0:8])
	randomHi := binary.LittleEndian.Uint16(g.lastRandom[8:10])
	randomLo++
	if randomLo == 0 {
		randomHi++
		if randomHi == 0 {
			g.mu.Unlock()
			return Uint128{}, ErrIDRandomOverflow
		}
	}
	binary.LittleEndian.PutUint64(g.lastRandom[0:8], randomLo)
	binary.LittleEndian.PutUint16(g.lastRandom[8:10], randomHi)
	g.mu.Unlock()

	return Uint128{
		Lo: randomLo,
		Hi: uint64(randomHi) | (timestamp&0xFFFF_FFFF_FFFF)<<16,
	}, nil
}
