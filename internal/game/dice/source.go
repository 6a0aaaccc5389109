package dice

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"sync"

	"go.uber.org/zap"
)

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics if n <= 0 or if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// seededSource is a reproducible PCG-backed Source.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a deterministic Source for the given seed.
//
// Postcondition: Two sources built from the same seed yield the same sequence.
func NewSeededSource(seed uint64) Source {
	return &seededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Sequence replays a fixed list of draws. Each value is reduced modulo n, so
// callers script draws by the value they want returned. The list wraps when
// exhausted.
type Sequence struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewSequence returns a Sequence replaying values in order.
//
// Precondition: len(values) > 0; all values >= 0.
func NewSequence(values ...int) *Sequence {
	return &Sequence{values: values}
}

// Intn returns the next scripted value modulo n.
func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v % n
}

// Draws reports how many values have been consumed.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// loggedSource wraps a Source and logs each draw at debug level.
type loggedSource struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedSource wraps src so that every draw is logged with its bound and result.
//
// Precondition: src and logger must be non-nil.
func NewLoggedSource(src Source, logger *zap.Logger) Source {
	return &loggedSource{src: src, logger: logger}
}

func (l *loggedSource) Intn(n int) int {
	v := l.src.Intn(n)
	l.logger.Debug("random draw", zap.Int("n", n), zap.Int("result", v))
	return v
}
