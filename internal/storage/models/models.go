package models

import "time"

type Document struct {
	ID         string
	SourceName string
	Content    string
	IngestedAt time.Time
}

type TrainingPair struct {
	ID        string
	Question  string
	Answer    string
	Category  string
	CreatedAt time.Time
}

type ConversationTurn struct {
	ID           string
	SessionID    string
	UserQuestion string
	BotResponse  string
	CreatedAt    time.Time
}

const (
	EvaluationStatusScored = "scored"
	EvaluationStatusFailed = "failed"
)

// Evaluation is one scoring pass over a conversation turn. Re-evaluation
// creates a new row; rows are never mutated.
type Evaluation struct {
	ID              string
	TurnID          string
	CriterionScores map[string]float64
	OverallScore    float64
	FeedbackText    string
	Strengths       []string
	Improvements    []string
	Status          string
	CreatedAt       time.Time
}

const (
	RatingApprove    = "approve"
	RatingDisapprove = "disapprove"
)

type UserFeedback struct {
	ID        string
	TurnID    string
	SessionID string
	Rating    string
	Comment   string
	CreatedAt time.Time
}

const (
	CategoryBestPractice = "best_practice"
	CategoryImprovement  = "improvement"
	CategoryAvoidPattern = "avoid_pattern"
)

func ValidInsightCategory(c string) bool {
	switch c {
	case CategoryBestPractice, CategoryImprovement, CategoryAvoidPattern:
		return true
	}
	return false
}

// Insight is a reusable lesson mined from a poor evaluation or negative
// feedback. Retired insights (IsActive=false) stay on record for audit.
type Insight struct {
	ID                 string
	Category           string
	Text               string
	Examples           []string
	SourceEvaluationID string
	SourceFeedbackID   string
	Importance         int
	IsActive           bool
	CreatedAt          time.Time
}

const (
	SuggestionStateIdle      = "idle"
	SuggestionStateSuggested = "suggested"
	SuggestionStateApproved  = "approved"
	SuggestionStateRejected  = "rejected"
)

// InstructionState holds the operator override (takes precedence over the
// generated instruction when set) and the pending AI-suggestion state.
type InstructionState struct {
	OverrideText    string
	HasOverride     bool
	SuggestionText  string
	SuggestionState string
	UpdatedAt       time.Time
}
