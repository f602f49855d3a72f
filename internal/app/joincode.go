package app

import (
	"math/rand"
	"sync"
	"time"
)

// codeAlphabet excludes 0/O/1/I so codes survive being read aloud or
// transcribed by hand.
const (
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	codeLength   = 6
)

// codeGenerator issues human-entry join codes. Collision checking against
// live codes happens at the engine, which sees the substrate.
type codeGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newCodeGenerator() *codeGenerator {
	return &codeGenerator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func newSeededCodeGenerator(seed int64) *codeGenerator {
	return &codeGenerator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *codeGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[g.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
