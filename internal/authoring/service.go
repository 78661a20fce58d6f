package authoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"debugarena/internal/domain"
	"debugarena/internal/errors"
)

// Store is the storage slice the authoring surface writes to.
type Store interface {
	InsertQuiz(ctx context.Context, q domain.Quiz) error
	InsertQuestion(ctx context.Context, q domain.Question) error
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	// InsertAssignment returns CodeAlreadyExists when the (quiz, learner)
	// pair is already assigned.
	InsertAssignment(ctx context.Context, a domain.Assignment) error
}

type Config struct {
	Store Store
	Clock func() time.Time
}

// Service covers the administrator operations: authoring quizzes and
// questions, and assigning quizzes to learners. Every call checks the
// caller's role from the identity it is handed; there is no ambient admin
// state.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{store: c.Store, clock: c.Clock}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

type CreateQuizRequest struct {
	Identity    domain.Identity
	Title       string
	Language    string
	TimePerQues int
}

func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	if err := requireAdmin(req.Identity); err != nil {
		return nil, err
	}

	if req.Title == "" || req.Language == "" || req.TimePerQues <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("title, language and a positive time per question are required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate quiz ID: %w", err)
	}

	quiz := domain.Quiz{
		ID:          id.String(),
		Title:       req.Title,
		Language:    req.Language,
		TimePerQues: req.TimePerQues,
		Active:      true,
		CreatedBy:   req.Identity.UserID,
		CreateTime:  s.clock(),
	}

	if err := s.store.InsertQuiz(ctx, quiz); err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}

	return &quiz, nil
}

type AddQuestionRequest struct {
	Identity       domain.Identity
	QuizID         string
	Title          string
	BuggyCode      string
	Solution       string
	ExpectedOutput string
	Position       int
}

func (s *Service) AddQuestion(ctx context.Context, req AddQuestionRequest) (*domain.Question, error) {
	if err := requireAdmin(req.Identity); err != nil {
		return nil, err
	}

	if req.BuggyCode == "" || req.Solution == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("buggy code and solution are required"))
	}

	if _, err := s.store.GetQuiz(ctx, req.QuizID); err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate question ID: %w", err)
	}

	q := domain.Question{
		ID:             id.String(),
		QuizID:         req.QuizID,
		Title:          req.Title,
		BuggyCode:      req.BuggyCode,
		Solution:       req.Solution,
		ExpectedOutput: req.ExpectedOutput,
		Position:       req.Position,
	}

	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}

	return &q, nil
}

type AssignQuizRequest struct {
	Identity  domain.Identity
	QuizID    string
	LearnerID string
}

// AssignQuiz binds a quiz to a learner. Exactly one assignment may exist per
// (quiz, learner) pair; a duplicate surfaces as AlreadyExists.
func (s *Service) AssignQuiz(ctx context.Context, req AssignQuizRequest) (*domain.Assignment, error) {
	if err := requireAdmin(req.Identity); err != nil {
		return nil, err
	}

	if req.LearnerID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("learner ID is required"))
	}

	if _, err := s.store.GetQuiz(ctx, req.QuizID); err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate assignment ID: %w", err)
	}

	a := domain.Assignment{
		ID:        id.String(),
		QuizID:    req.QuizID,
		LearnerID: req.LearnerID,
	}

	if err := s.store.InsertAssignment(ctx, a); err != nil {
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("quiz %s is already assigned to learner %s", req.QuizID, req.LearnerID))
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	return &a, nil
}

func requireAdmin(id domain.Identity) error {
	if !id.IsAdmin() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("administrator role required"))
	}
	return nil
}
