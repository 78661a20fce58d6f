package domain

const (
	EventNameSubmissionRecorded  = "submission.recorded"
	EventNameAssignmentCompleted = "assignment.completed"
	EventNameLeaderboardUpdated  = "leaderboard.updated"
)

type EventSubmissionRecorded struct {
	Submission Submission
	QuizID     string
	LearnerID  string
}

func (EventSubmissionRecorded) Name() string { return EventNameSubmissionRecorded }

type EventAssignmentCompleted struct {
	Assignment Assignment
	Tally      Tally
}

func (EventAssignmentCompleted) Name() string { return EventNameAssignmentCompleted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
