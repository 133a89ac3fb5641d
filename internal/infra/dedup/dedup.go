// Package dedup guards against resubmission of an already-accepted photo.
// A Bloom filter over (user, image ref) pairs answers "was this photo already
// claimed?" with:
//   - Yes → probably (false positive rate ≤ configured FPR)
//   - No  → definitely not (zero false negatives)
//
// A false positive wrongly refuses one claim; a false negative never happens,
// so duplicates cannot slip through once remembered.
package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// Config sizes the filter.
type Config struct {
	ExpectedItems int     // expected number of accepted photos
	FPRate        float64 // desired false positive rate (e.g. 0.001 = 0.1%)
}

// DefaultConfig returns defaults for 100k accepted photos at 0.1% FP rate.
func DefaultConfig() Config {
	return Config{
		ExpectedItems: 100_000,
		FPRate:        0.001,
	}
}

// Guard is a space-efficient probabilistic set of claimed photos.
type Guard struct {
	mu      sync.RWMutex
	bits    []uint64 // bit array stored as uint64 words
	numBits uint     // total bits
	numHash uint     // number of hash functions
	count   int      // items remembered
}

// New creates a guard sized to achieve the target FP rate.
// Optimal sizing formulas:
//
//	m = -(n * ln(p)) / (ln(2)^2)   — total bits
//	k = (m/n) * ln(2)              — hash functions
func New(cfg Config) *Guard {
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = DefaultConfig().ExpectedItems
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = DefaultConfig().FPRate
	}

	n := float64(cfg.ExpectedItems)
	p := cfg.FPRate

	m := uint(math.Ceil(-(n * math.Log(p)) / (math.Log(2) * math.Log(2))))
	k := uint(math.Ceil(float64(m) / n * math.Log(2)))

	if m == 0 {
		m = 64
	}
	if k == 0 {
		k = 1
	}

	words := (m + 63) / 64
	return &Guard{
		bits:    make([]uint64, words),
		numBits: m,
		numHash: k,
	}
}

// Remember marks a photo as claimed by a user.
func (g *Guard) Remember(userID, imageRef string) {
	if imageRef == "" {
		return // nothing identifying to remember
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	h1, h2 := baseHashes(userID, imageRef)
	for i := uint(0); i < g.numHash; i++ {
		pos := g.nthHash(h1, h2, i)
		g.bits[pos/64] |= 1 << (pos % 64)
	}
	g.count++
}

// Seen tests whether a photo was probably already claimed by this user.
// False means definitely not.
func (g *Guard) Seen(userID, imageRef string) bool {
	if imageRef == "" {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	h1, h2 := baseHashes(userID, imageRef)
	for i := uint(0); i < g.numHash; i++ {
		pos := g.nthHash(h1, h2, i)
		if g.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of photos remembered.
func (g *Guard) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// baseHashes computes two independent 32-bit hashes over the pair using
// SHA-256. Double hashing (Kirsch-Mitzenmacher) derives k positions from the
// two base hashes: h_i(x) = h1(x) + i*h2(x).
func baseHashes(userID, imageRef string) (uint32, uint32) {
	sum := sha256.Sum256([]byte(userID + "\x00" + imageRef))
	return binary.BigEndian.Uint32(sum[0:4]), binary.BigEndian.Uint32(sum[4:8])
}

func (g *Guard) nthHash(h1, h2 uint32, i uint) uint {
	return uint((uint64(h1) + uint64(i)*uint64(h2)) % uint64(g.numBits))
}
