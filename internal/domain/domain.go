package domain

import "time"

// Role of an authenticated caller. Identity is always passed in explicitly;
// nothing in the core reads ambient auth state.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleLearner Role = "learner"
)

// Identity is the externally-verified caller: the auth provider upstream has
// already authenticated it, the core only scopes data by it.
type Identity struct {
	UserID string
	Role   Role
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// Quiz is an immutable, admin-authored quiz definition.
type Quiz struct {
	ID          string
	Title       string
	Language    string
	TimePerQues int // seconds per question
	Active      bool
	CreatedBy   string
	CreateTime  time.Time
}

// Question is one buggy snippet within a quiz. Solution is the canonical fixed
// code; ExpectedOutput, when non-empty, takes precedence for verification.
type Question struct {
	ID             string
	QuizID         string
	Title          string
	BuggyCode      string
	Solution       string
	ExpectedOutput string
	Position       int
}

// Assignment binds one quiz to one learner. Exactly one per (quiz, learner).
type Assignment struct {
	ID          string
	QuizID      string
	LearnerID   string
	Completed   bool
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// OrderEntry is one row of the persisted per-assignment question permutation.
// Created once on first load and stable on every load after that.
type OrderEntry struct {
	AssignmentID string
	QuestionID   string
	Rank         int
}

// Submission is a learner's final answer for one question. At most one per
// (assignment, question).
type Submission struct {
	ID           string
	AssignmentID string
	QuestionID   string
	Code         string
	Correct      bool
	TimeTaken    int // seconds
	SubmitTime   time.Time
}

// CheatEvent kinds. Advisory telemetry only, never read back by the core.
const (
	CheatKindTabSwitch = "tab-switch"
	CheatKindCopyPaste = "copy-paste-attempt"
)

type CheatEvent struct {
	ID           string
	LearnerID    string
	AssignmentID string
	Kind         string
	Detail       string
	OccurredAt   time.Time
}

// LearnerResult is the raw per-learner aggregate over submissions joined
// through completed assignments, before ranking and scoring.
type LearnerResult struct {
	LearnerID    string
	Correct      int
	Total        int
	TotalSeconds int
}

// LeaderboardEntry is a derived, per-learner aggregate over all completed
// assignments. Never persisted; recomputed on demand.
type LeaderboardEntry struct {
	LearnerID    string `json:"learner_id"`
	Rank         int    `json:"rank"`
	Correct      int    `json:"correct"`
	Total        int    `json:"total"`
	TotalSeconds int    `json:"total_seconds"`
	Score        int    `json:"score"`
}

// Leaderboard is the ranked, scored board, optionally scoped to one quiz.
type Leaderboard struct {
	QuizID  string             `json:"quiz_id,omitempty"`
	Entries []LeaderboardEntry `json:"entries"`
}

// Tally is the end-of-quiz summary shown to the learner.
type Tally struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}
