package assignment

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"debugarena/internal/domain"
	"debugarena/internal/errors"
)

// Store is the slice of storage the loader needs.
type Store interface {
	GetAssignment(ctx context.Context, id string) (domain.Assignment, error)
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	ListQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
	// ListOrder returns the persisted permutation sorted by rank, empty if
	// none exists yet.
	ListOrder(ctx context.Context, assignmentID string) ([]domain.OrderEntry, error)
	// CreateOrder persists the permutation and sets the assignment's start
	// timestamp (if unset) in one transaction. Returns CodeAlreadyExists when
	// another loader won the race.
	CreateOrder(ctx context.Context, assignmentID string, entries []domain.OrderEntry, startedAt time.Time) error
	ListSubmissions(ctx context.Context, assignmentID string) ([]domain.Submission, error)
}

type Config struct {
	Store Store

	// Shuffle permutes n elements via swap. Defaults to rand.Shuffle;
	// tests inject a deterministic one.
	Shuffle func(n int, swap func(i, j int))

	Clock func() time.Time
}

// Service resolves an assignment into a ready-to-run session: the quiz, the
// learner-stable question sequence, and the resume point.
type Service struct {
	store   Store
	shuffle func(n int, swap func(i, j int))
	clock   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:   c.Store,
		shuffle: c.Shuffle,
		clock:   c.Clock,
	}
	if s.shuffle == nil {
		s.shuffle = rand.Shuffle
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

type LoadRequest struct {
	AssignmentID string
	Identity     domain.Identity
}

// LoadedSession is everything the session engine needs to run or resume a quiz.
type LoadedSession struct {
	Assignment  domain.Assignment
	Quiz        domain.Quiz
	Questions   []domain.Question
	Submissions []domain.Submission
	// ResumeIndex is the first unanswered position. Equal to len(Questions)
	// when every question already has a submission.
	ResumeIndex int
	// Completed short-circuits the engine straight to the results view.
	Completed bool
}

// Load resolves req into a LoadedSession. On first load it materializes a
// uniform random permutation of the quiz's questions and persists it; every
// later load reproduces that exact sequence. An assignment owned by another
// learner is reported as not found.
func (s *Service) Load(ctx context.Context, req LoadRequest) (*LoadedSession, error) {
	a, err := s.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	// Ownership masquerades as absence so callers cannot probe for other
	// learners' assignments.
	if a.LearnerID != req.Identity.UserID {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("assignment not found: %s", req.AssignmentID))
	}

	quiz, err := s.store.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}

	if a.Completed {
		// Short-circuit: no order or resume work, just enough for the
		// results view.
		subs, err := s.store.ListSubmissions(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("load submissions: %w", err)
		}

		return &LoadedSession{
			Assignment:  a,
			Quiz:        quiz,
			Submissions: subs,
			Completed:   true,
		}, nil
	}

	questions, err := s.resolveOrder(ctx, a, quiz)
	if err != nil {
		return nil, err
	}

	subs, err := s.store.ListSubmissions(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	answered := make(map[string]bool, len(subs))
	for _, sub := range subs {
		answered[sub.QuestionID] = true
	}

	resume := len(questions)
	for i, q := range questions {
		if !answered[q.ID] {
			resume = i
			break
		}
	}

	return &LoadedSession{
		Assignment:  a,
		Quiz:        quiz,
		Questions:   questions,
		Submissions: subs,
		ResumeIndex: resume,
	}, nil
}

// resolveOrder returns the assignment's question sequence, creating and
// persisting the permutation on first load. Persistence failure aborts the
// load: running a session on an undurable order would break the resume
// guarantee.
func (s *Service) resolveOrder(ctx context.Context, a domain.Assignment, quiz domain.Quiz) ([]domain.Question, error) {
	order, err := s.store.ListOrder(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load question order: %w", err)
	}

	questions, err := s.store.ListQuestions(ctx, quiz.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	if len(order) == 0 {
		s.shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})

		entries := make([]domain.OrderEntry, len(questions))
		for i, q := range questions {
			entries[i] = domain.OrderEntry{
				AssignmentID: a.ID,
				QuestionID:   q.ID,
				Rank:         i,
			}
		}

		err := s.store.CreateOrder(ctx, a.ID, entries, s.clock())
		if err == nil {
			return questions, nil
		}
		if !errors.IsCode(err, errors.CodeAlreadyExists) {
			return nil, fmt.Errorf("persist question order: %w", err)
		}

		// Lost a race against a concurrent load; the winner's order is the
		// stable one, so use it.
		order, err = s.store.ListOrder(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reload question order: %w", err)
		}
	}

	sequenced := make([]domain.Question, 0, len(order))
	for _, entry := range order {
		q, ok := byID[entry.QuestionID]
		if !ok {
			return nil, errors.New(errors.CodeInternal,
				errors.WithMessagef("question order references unknown question %s", entry.QuestionID))
		}
		sequenced = append(sequenced, q)
	}

	return sequenced, nil
}
