package app

import (
	"math/rand"
	"sync"
	"time"
)

// Shuffler draws question and option permutations. One shuffle is drawn per
// question presentation and held for the lifetime of that view; callers must
// not redraw on every read.
type Shuffler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewShuffler() *Shuffler {
	return &Shuffler{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededShuffler allows deterministic permutations in tests.
func NewSeededShuffler(seed int64) *Shuffler {
	return &Shuffler{rnd: rand.New(rand.NewSource(seed))}
}

// QuestionOrder returns a permutation of [0, n). With randomize disabled it is
// the identity, so order[position] can be used unconditionally.
func (s *Shuffler) QuestionOrder(n int, randomize bool) []int {
	if !randomize {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Perm(n)
}

// Options shuffles a copy of options and returns the display slice plus a
// mapping origToShuffled[originalIndex] = displayIndex, so correctness checks
// stay in the original index space regardless of display order.
func (s *Shuffler) Options(options []string) ([]string, []int) {
	s.mu.Lock()
	perm := s.rnd.Perm(len(options)) // perm[displayIndex] = originalIndex
	s.mu.Unlock()

	shuffled := make([]string, len(options))
	origToShuffled := make([]int, len(options))
	for display, orig := range perm {
		shuffled[display] = options[orig]
		origToShuffled[orig] = display
	}
	return shuffled, origToShuffled
}
