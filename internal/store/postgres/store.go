package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"debugarena/internal/domain"
	"debugarena/internal/errors"
)

const codeUniqueViolation = "23505"

// Store implements every storage slice the services consume against one
// Postgres pool. The database enforces the uniqueness invariants (one
// assignment per (quiz, learner), one rank per (assignment, question), one
// submission per (assignment, question)); unique violations come back as
// CodeAlreadyExists so callers can treat them as races, not crashes.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	const stmt = `
SELECT id, title, language, time_per_question, active, created_by, create_time
FROM quizzes WHERE id = $1;`

	var q domain.Quiz
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&q.ID, &q.Title, &q.Language, &q.TimePerQues, &q.Active, &q.CreatedBy, &q.CreateTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", id))
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}

	return q, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	const stmt = `
SELECT id, quiz_id, learner_id, completed, started_at, completed_at
FROM assignments WHERE id = $1;`

	var a domain.Assignment
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&a.ID, &a.QuizID, &a.LearnerID, &a.Completed, &a.StartedAt, &a.CompletedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Assignment{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("assignment not found: %s", id))
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("get assignment: %w", err)
	}

	return a, nil
}

func (s *Store) ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	const stmt = `
SELECT id, quiz_id, title, buggy_code, solution, expected_output, position
FROM questions WHERE quiz_id = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.ID, &q.QuizID, &q.Title, &q.BuggyCode, &q.Solution, &q.ExpectedOutput, &q.Position)
		return q, err
	})
}

func (s *Store) ListOrder(ctx context.Context, assignmentID string) ([]domain.OrderEntry, error) {
	const stmt = `
SELECT assignment_id, question_id, rank
FROM question_order WHERE assignment_id = $1
ORDER BY rank;`

	rows, err := s.db.Query(ctx, stmt, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list question order: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.OrderEntry, error) {
		var e domain.OrderEntry
		err := r.Scan(&e.AssignmentID, &e.QuestionID, &e.Rank)
		return e, err
	})
}

// CreateOrder persists a fresh permutation and stamps the assignment as
// started, atomically. Losing a creation race surfaces as AlreadyExists with
// nothing written.
func (s *Store) CreateOrder(ctx context.Context, assignmentID string, entries []domain.OrderEntry, startedAt time.Time) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insOrderStmt = `INSERT INTO question_order (assignment_id, question_id, rank) VALUES ($1, $2, $3);`
		startStmt    = `UPDATE assignments SET started_at = $2 WHERE id = $1 AND started_at IS NULL;`
	)

	for _, e := range entries {
		if _, err = tx.Exec(ctx, insOrderStmt, e.AssignmentID, e.QuestionID, e.Rank); err != nil {
			if isUniqueViolation(err) {
				return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
			}
			return fmt.Errorf("insert order entry: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, startStmt, assignmentID, startedAt); err != nil {
		return fmt.Errorf("mark assignment started: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListSubmissions(ctx context.Context, assignmentID string) ([]domain.Submission, error) {
	const stmt = `
SELECT id, assignment_id, question_id, code, correct, time_taken, submit_time
FROM submissions WHERE assignment_id = $1
ORDER BY submit_time;`

	rows, err := s.db.Query(ctx, stmt, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Submission, error) {
		var sub domain.Submission
		err := r.Scan(&sub.ID, &sub.AssignmentID, &sub.QuestionID, &sub.Code, &sub.Correct, &sub.TimeTaken, &sub.SubmitTime)
		return sub, err
	})
}

func (s *Store) InsertSubmission(ctx context.Context, sub domain.Submission) error {
	const stmt = `
INSERT INTO submissions (id, assignment_id, question_id, code, correct, time_taken, submit_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := s.db.Exec(ctx, stmt,
		sub.ID, sub.AssignmentID, sub.QuestionID, sub.Code, sub.Correct, sub.TimeTaken, sub.SubmitTime)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	return nil
}

func (s *Store) CompleteAssignment(ctx context.Context, assignmentID string, at time.Time) error {
	const stmt = `
UPDATE assignments SET completed = TRUE, completed_at = $2
WHERE id = $1 AND NOT completed;`

	if _, err := s.db.Exec(ctx, stmt, assignmentID, at); err != nil {
		return fmt.Errorf("complete assignment: %w", err)
	}

	return nil
}

func (s *Store) InsertQuiz(ctx context.Context, q domain.Quiz) error {
	const stmt = `
INSERT INTO quizzes (id, title, language, time_per_question, active, created_by, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := s.db.Exec(ctx, stmt,
		q.ID, q.Title, q.Language, q.TimePerQues, q.Active, q.CreatedBy, q.CreateTime)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}

	return nil
}

func (s *Store) InsertQuestion(ctx context.Context, q domain.Question) error {
	const stmt = `
INSERT INTO questions (id, quiz_id, title, buggy_code, solution, expected_output, position)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := s.db.Exec(ctx, stmt,
		q.ID, q.QuizID, q.Title, q.BuggyCode, q.Solution, q.ExpectedOutput, q.Position)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}

	return nil
}

func (s *Store) InsertAssignment(ctx context.Context, a domain.Assignment) error {
	const stmt = `
INSERT INTO assignments (id, quiz_id, learner_id, completed, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt,
		a.ID, a.QuizID, a.LearnerID, a.Completed, a.StartedAt, a.CompletedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	return nil
}

func (s *Store) InsertCheatEvent(ctx context.Context, e domain.CheatEvent) error {
	const stmt = `
INSERT INTO cheat_events (id, learner_id, assignment_id, kind, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt,
		e.ID, e.LearnerID, e.AssignmentID, e.Kind, e.Detail, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert cheat event: %w", err)
	}

	return nil
}

func (s *Store) AggregateResults(ctx context.Context, quizID string) ([]domain.LearnerResult, error) {
	const stmt = `
SELECT a.learner_id,
       COUNT(*) FILTER (WHERE s.correct) AS correct,
       COUNT(*) AS total,
       COALESCE(SUM(s.time_taken), 0) AS total_seconds
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE a.completed AND ($1 = '' OR a.quiz_id = $1)
GROUP BY a.learner_id;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("aggregate results: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LearnerResult, error) {
		var lr domain.LearnerResult
		err := r.Scan(&lr.LearnerID, &lr.Correct, &lr.Total, &lr.TotalSeconds)
		return lr, err
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
