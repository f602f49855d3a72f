package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"quiz-session-engine/internal/app"
	"quiz-session-engine/internal/domain"
)

// Substrate is the in-process implementation of app.Substrate: a versioned
// key-value map with push notification to subscribers. Versions are monotonic
// per key so observers can de-duplicate.
type Substrate struct {
	mu       sync.RWMutex
	records  map[string]app.Record
	versions map[string]int64
	subs     map[string]map[chan app.Record]struct{}
}

func NewSubstrate() *Substrate {
	return &Substrate{
		records:  make(map[string]app.Record),
		versions: make(map[string]int64),
		subs:     make(map[string]map[chan app.Record]struct{}),
	}
}

func (s *Substrate) Get(_ context.Context, key string) (app.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return app.Record{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (s *Substrate) Set(_ context.Context, key string, data []byte) (app.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key]++
	rec := app.Record{Key: key, Version: s.versions[key], Data: append(json.RawMessage(nil), data...)}
	s.records[key] = rec
	s.notifyLocked(key, rec)
	return rec, nil
}

// Update merges top-level fields into the stored JSON object.
func (s *Substrate) Update(_ context.Context, key string, fields map[string]any) (app.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return app.Record{}, domain.ErrRecordNotFound
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return app.Record{}, fmt.Errorf("update %s: %w", key, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return app.Record{}, fmt.Errorf("update %s: %w", key, err)
	}
	s.versions[key]++
	rec = app.Record{Key: key, Version: s.versions[key], Data: data}
	s.records[key] = rec
	s.notifyLocked(key, rec)
	return rec, nil
}

func (s *Substrate) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Subscribe registers a callback for every record published at key. Delivery
// is at-least-once in spirit: a slow consumer loses intermediate versions,
// never the latest one.
func (s *Substrate) Subscribe(key string, fn func(app.Record)) (func(), error) {
	ch := make(chan app.Record, 8)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[chan app.Record]struct{})
	}
	s.subs[key][ch] = struct{}{}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case rec, ok := <-ch:
				if !ok {
					return
				}
				fn(rec)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if set, ok := s.subs[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(s.subs, key)
				}
			}
			s.mu.Unlock()
			close(done)
		})
	}
	return cancel, nil
}

func (s *Substrate) notifyLocked(key string, rec app.Record) {
	for ch := range s.subs[key] {
		select {
		case ch <- rec:
		default:
			// Drop the stale buffered update so a slow consumer never blocks
			// the writer and still converges on the newest record.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- rec:
			default:
			}
		}
	}
}
