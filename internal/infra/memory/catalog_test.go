package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-engine/internal/domain"
)

type countingLoader struct {
	calls int64
	inner QuizLoader
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	atomic.AddInt64(&l.calls, 1)
	return l.inner.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Sample",
		Questions: []domain.Question{
			domain.MultipleChoice{Text: "?", Options: []string{"a", "b"}, CorrectOption: 0},
		},
	}
}

func TestCatalogCachesWithinTTL(t *testing.T) {
	loader := &countingLoader{inner: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	catalog := NewCatalog(loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		quiz, err := catalog.GetQuizByID(ctx, "quiz-1")
		require.NoError(t, err)
		assert.Equal(t, "quiz-1", quiz.ID)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.calls))
}

// Distinct quiz ids fill the cache on distinct singleflight keys, so their
// jittered TTL draws run concurrently. Run with -race.
func TestCatalogConcurrentFills(t *testing.T) {
	quizzes := make(map[string]domain.Quiz, 8)
	for i := 0; i < 8; i++ {
		quiz := sampleQuiz()
		quiz.ID = fmt.Sprintf("quiz-%d", i)
		quizzes[quiz.ID] = quiz
	}
	catalog := NewCatalog(NewStaticQuizLoader(quizzes), time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := range quizzes {
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				quiz, err := catalog.GetQuizByID(ctx, id)
				assert.NoError(t, err)
				assert.Equal(t, id, quiz.ID)
			}(id)
		}
	}
	wg.Wait()
}

func TestCatalogPropagatesLoaderErrors(t *testing.T) {
	loader := &countingLoader{inner: NewStaticQuizLoader(nil)}
	catalog := NewCatalog(loader, time.Minute)

	_, err := catalog.GetQuizByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)

	// Errors are not cached.
	_, err = catalog.GetQuizByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loader.calls))
}

func TestCatalogExpiresAfterTTL(t *testing.T) {
	loader := &countingLoader{inner: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	catalog := NewCatalog(loader, 10*time.Millisecond)
	ctx := context.Background()

	_, err := catalog.GetQuizByID(ctx, "quiz-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = catalog.GetQuizByID(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loader.calls))
}
