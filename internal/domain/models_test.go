package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuizJSONKeepsVariantTypes(t *testing.T) {
	quiz := Quiz{
		ID:    "quiz-1",
		Title: "Mixed",
		Questions: []Question{
			MultipleChoice{Text: "?", Options: []string{"a", "b"}, CorrectOption: 1},
			ShortAnswer{Text: "??", CorrectAnswer: "x", Match: MatchContains},
			Opinion{Text: "???", Anonymous: true},
		},
	}

	data, err := json.Marshal(quiz)
	require.NoError(t, err)

	var decoded Quiz
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Questions, 3)

	mc, ok := decoded.Questions[0].(MultipleChoice)
	require.True(t, ok)
	assert.Equal(t, 1, mc.CorrectOption)

	sa, ok := decoded.Questions[1].(ShortAnswer)
	require.True(t, ok)
	assert.Equal(t, MatchContains, sa.Match)

	op, ok := decoded.Questions[2].(Opinion)
	require.True(t, ok)
	assert.True(t, op.Anonymous)
}

func TestQuizUnmarshalRejectsUnknownVariant(t *testing.T) {
	var quiz Quiz
	err := json.Unmarshal([]byte(`{"id":"q","questions":[{"type":"truefalse"}]}`), &quiz)
	assert.Error(t, err)
}

func TestQuizValidate(t *testing.T) {
	assert.Error(t, Quiz{}.Validate(), "missing id")

	assert.Error(t, Quiz{ID: "q", Questions: []Question{
		MultipleChoice{Text: "?", Options: []string{"only one"}, CorrectOption: 0},
	}}.Validate(), "too few options")

	assert.Error(t, Quiz{ID: "q", Questions: []Question{
		MultipleChoice{Text: "?", Options: []string{"a", "b"}, CorrectOption: 5},
	}}.Validate(), "correct option out of range")

	assert.Error(t, Quiz{ID: "q", Questions: []Question{
		ShortAnswer{Text: "?"},
	}}.Validate(), "empty correct answer")

	assert.NoError(t, Quiz{ID: "q", Questions: []Question{
		MultipleChoice{Text: "?", Options: []string{"a", "b"}, CorrectOption: 0},
		ShortAnswer{Text: "?", CorrectAnswer: "x"},
		Opinion{Text: "?"},
	}}.Validate())
}
