package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MatchType controls how short-answer submissions are compared.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
)

// Question is a closed set of variants: MultipleChoice, ShortAnswer, Opinion.
type Question interface {
	Prompt() string
	question()
}

// MultipleChoice has one correct option, identified in the original
// (unshuffled) index space.
type MultipleChoice struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
}

func (q MultipleChoice) Prompt() string { return q.Text }
func (MultipleChoice) question()        {}

// ShortAnswer accepts free text, matched against the primary answer and any
// additional accepted strings.
type ShortAnswer struct {
	Text              string    `json:"text"`
	CorrectAnswer     string    `json:"correctAnswer"`
	AdditionalAnswers []string  `json:"additionalAnswers,omitempty"`
	Match             MatchType `json:"match"`
}

func (q ShortAnswer) Prompt() string { return q.Text }
func (ShortAnswer) question()        {}

// Opinion has no correctness concept; any non-empty response counts.
type Opinion struct {
	Text      string `json:"text"`
	Anonymous bool   `json:"anonymous"`
}

func (q Opinion) Prompt() string { return q.Text }
func (Opinion) question()        {}

// Quiz is immutable content supplied by the catalog.
type Quiz struct {
	ID        string
	Title     string
	Questions []Question
}

type questionEnvelope struct {
	Type           string          `json:"type"`
	MultipleChoice *MultipleChoice `json:"multipleChoice,omitempty"`
	ShortAnswer    *ShortAnswer    `json:"shortAnswer,omitempty"`
	Opinion        *Opinion        `json:"opinion,omitempty"`
}

type quizJSON struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Questions []questionEnvelope `json:"questions"`
}

func (q Quiz) MarshalJSON() ([]byte, error) {
	out := quizJSON{ID: q.ID, Title: q.Title, Questions: make([]questionEnvelope, 0, len(q.Questions))}
	for _, question := range q.Questions {
		switch v := question.(type) {
		case MultipleChoice:
			mc := v
			out.Questions = append(out.Questions, questionEnvelope{Type: "multipleChoice", MultipleChoice: &mc})
		case ShortAnswer:
			sa := v
			out.Questions = append(out.Questions, questionEnvelope{Type: "shortAnswer", ShortAnswer: &sa})
		case Opinion:
			op := v
			out.Questions = append(out.Questions, questionEnvelope{Type: "opinion", Opinion: &op})
		default:
			return nil, fmt.Errorf("marshal quiz: unknown question variant %T", question)
		}
	}
	return json.Marshal(out)
}

func (q *Quiz) UnmarshalJSON(data []byte) error {
	var raw quizJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.ID = raw.ID
	q.Title = raw.Title
	q.Questions = make([]Question, 0, len(raw.Questions))
	for i, env := range raw.Questions {
		switch {
		case env.Type == "multipleChoice" && env.MultipleChoice != nil:
			q.Questions = append(q.Questions, *env.MultipleChoice)
		case env.Type == "shortAnswer" && env.ShortAnswer != nil:
			q.Questions = append(q.Questions, *env.ShortAnswer)
		case env.Type == "opinion" && env.Opinion != nil:
			q.Questions = append(q.Questions, *env.Opinion)
		default:
			return fmt.Errorf("unmarshal quiz: question %d has unknown type %q", i, env.Type)
		}
	}
	return nil
}

// Validate checks the structural invariants of quiz content.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("quiz has no id")
	}
	for i, question := range q.Questions {
		switch v := question.(type) {
		case MultipleChoice:
			if len(v.Options) < 2 {
				return fmt.Errorf("question %d: needs at least 2 options", i)
			}
			if v.CorrectOption < 0 || v.CorrectOption >= len(v.Options) {
				return fmt.Errorf("question %d: correct option %d out of range", i, v.CorrectOption)
			}
		case ShortAnswer:
			if v.CorrectAnswer == "" {
				return fmt.Errorf("question %d: empty correct answer", i)
			}
		}
	}
	return nil
}

// SessionState is derived, not stored: Expired is a function of the clock.
type SessionState string

const (
	StateActive  SessionState = "active"
	StateExpired SessionState = "expired"
	StateEnded   SessionState = "ended"
)

// SessionSettings are fixed at session start.
type SessionSettings struct {
	TimeLimitSeconds   int           `json:"timeLimitSeconds"`
	RandomizeQuestions bool          `json:"randomizeQuestions"`
	SingleAttempt      bool          `json:"singleAttempt"`
	TTL                time.Duration `json:"-"`
}

// Session is one hosted run of a quiz.
type Session struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	QuizID             string    `json:"quizId"`
	HostID             string    `json:"hostId"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
	CurrentQuestion    int       `json:"currentQuestion"`
	TimeLimitSeconds   int       `json:"timeLimitSeconds"`
	RandomizeQuestions bool      `json:"randomizeQuestions"`
	SingleAttempt      bool      `json:"singleAttempt"`
	ParticipantCount   int       `json:"participantCount"`
}

// AnswerPayload is a raw submission before validation and scoring. OptionIndex
// is in the display (shuffled) space; -1 marks "nothing selected".
type AnswerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	OptionIndex   int    `json:"optionIndex"`
	Text          string `json:"text"`
	TimedOut      bool   `json:"timedOut,omitempty"`
}

// Answer is immutable once recorded for a (participant, attempt, question).
type Answer struct {
	QuestionIndex int    `json:"questionIndex"`
	OptionIndex   int    `json:"optionIndex"` // original space; -1 when none/timeout
	Text          string `json:"text,omitempty"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	AnsweredAt    int64  `json:"answeredAt"` // epoch millis
}

// Attempt is a frozen pass through the quiz, archived on retry or at session end.
type Attempt struct {
	Answers     map[int]Answer `json:"answers"`
	Score       int            `json:"score"`
	CompletedAt int64          `json:"completedAt"` // epoch millis
}

// Participant is one identity's membership and progress within a session.
type Participant struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	DisplayName string         `json:"displayName"`
	JoinedAt    time.Time      `json:"joinedAt"`
	Active      bool           `json:"active"`
	Score       int            `json:"score"`
	Answers     map[int]Answer `json:"answers"`
	Attempts    []Attempt      `json:"attempts,omitempty"`
}

// RankedEntry is one leaderboard row. Tied scores share a rank and the next
// distinct score resumes at its list position.
type RankedEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
	Tier          string `json:"tier"`
}

// QuestionView is what a participant sees for the current question. Options
// arrive already shuffled; submissions carry display indexes and the engine
// maps them back to the original space before scoring.
type QuestionView struct {
	QuestionIndex    int       `json:"questionIndex"` // original index
	Position         int       `json:"position"`      // position in this participant's order
	Type             string    `json:"type"`
	Prompt           string    `json:"prompt"`
	Options          []string  `json:"options,omitempty"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"` // 0 for opinion questions
	PresentedAt      time.Time `json:"presentedAt"`
}

// SessionSnapshot is the state published to observers after every change.
type SessionSnapshot struct {
	SessionID        string        `json:"sessionId"`
	Code             string        `json:"code"`
	QuizID           string        `json:"quizId"`
	QuizTitle        string        `json:"quizTitle"`
	State            SessionState  `json:"state"`
	CurrentQuestion  int           `json:"currentQuestion"`
	QuestionCount    int           `json:"questionCount"`
	ParticipantCount int           `json:"participantCount"`
	Leaderboard      []RankedEntry `json:"leaderboard"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// ParticipantHistory is the archive record written before a session's
// participant rows are deleted.
type ParticipantHistory struct {
	SessionID     string    `json:"sessionId"`
	QuizID        string    `json:"quizId"`
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Attempts      []Attempt `json:"attempts"`
	FinalScore    int       `json:"finalScore"`
	FinalRank     int       `json:"finalRank"`
	ArchivedAt    time.Time `json:"archivedAt"`
}
