package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"debugarena/internal/domain"
	"debugarena/internal/errors"
)

type subKey struct {
	assignmentID string
	questionID   string
}

// Store is a mutex-guarded in-memory implementation of every storage slice
// the services consume. It enforces the same uniqueness invariants as the
// Postgres schema, which makes it good enough for tests and demo mode.
type Store struct {
	mu          sync.RWMutex
	quizzes     map[string]domain.Quiz
	questions   map[string][]domain.Question // by quiz ID
	assignments map[string]domain.Assignment
	assigned    map[string]bool // quizID + "\x00" + learnerID
	orders      map[string][]domain.OrderEntry
	submissions map[subKey]domain.Submission
	cheatEvents []domain.CheatEvent
}

func NewStore() *Store {
	return &Store{
		quizzes:     make(map[string]domain.Quiz),
		questions:   make(map[string][]domain.Question),
		assignments: make(map[string]domain.Assignment),
		assigned:    make(map[string]bool),
		orders:      make(map[string][]domain.OrderEntry),
		submissions: make(map[subKey]domain.Submission),
	}
}

func (s *Store) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[id]
	if !ok {
		return domain.Quiz{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", id))
	}
	return q, nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return domain.Assignment{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("assignment not found: %s", id))
	}
	return a, nil
}

func (s *Store) ListQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qs := make([]domain.Question, len(s.questions[quizID]))
	copy(qs, s.questions[quizID])
	sort.Slice(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })
	return qs, nil
}

func (s *Store) ListOrder(_ context.Context, assignmentID string) ([]domain.OrderEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.OrderEntry, len(s.orders[assignmentID]))
	copy(entries, s.orders[assignmentID])
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	return entries, nil
}

func (s *Store) CreateOrder(_ context.Context, assignmentID string, entries []domain.OrderEntry, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.orders[assignmentID]) > 0 {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("question order already exists for assignment %s", assignmentID))
	}

	s.orders[assignmentID] = append([]domain.OrderEntry(nil), entries...)

	if a, ok := s.assignments[assignmentID]; ok && a.StartedAt == nil {
		t := startedAt
		a.StartedAt = &t
		s.assignments[assignmentID] = a
	}

	return nil
}

func (s *Store) ListSubmissions(_ context.Context, assignmentID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []domain.Submission
	for k, sub := range s.submissions {
		if k.assignmentID == assignmentID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmitTime.Before(subs[j].SubmitTime) })
	return subs, nil
}

func (s *Store) InsertSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey{assignmentID: sub.AssignmentID, questionID: sub.QuestionID}
	if _, ok := s.submissions[key]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("submission already exists for question %s", sub.QuestionID))
	}

	s.submissions[key] = sub
	return nil
}

func (s *Store) CompleteAssignment(_ context.Context, assignmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("assignment not found: %s", assignmentID))
	}
	if !a.Completed {
		t := at
		a.Completed = true
		a.CompletedAt = &t
		s.assignments[assignmentID] = a
	}

	return nil
}

func (s *Store) InsertQuiz(_ context.Context, q domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = q
	return nil
}

func (s *Store) InsertQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.QuizID] = append(s.questions[q.QuizID], q)
	return nil
}

func (s *Store) InsertAssignment(_ context.Context, a domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := a.QuizID + "\x00" + a.LearnerID
	if s.assigned[pair] {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("assignment already exists for quiz %s and learner %s", a.QuizID, a.LearnerID))
	}

	s.assigned[pair] = true
	s.assignments[a.ID] = a
	return nil
}

func (s *Store) InsertCheatEvent(_ context.Context, e domain.CheatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cheatEvents = append(s.cheatEvents, e)
	return nil
}

// CheatEvents returns a copy of the log; used by tests only.
func (s *Store) CheatEvents() []domain.CheatEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CheatEvent(nil), s.cheatEvents...)
}

func (s *Store) AggregateResults(_ context.Context, quizID string) ([]domain.LearnerResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byLearner := make(map[string]*domain.LearnerResult)
	for k, sub := range s.submissions {
		a, ok := s.assignments[k.assignmentID]
		if !ok || !a.Completed {
			continue
		}
		if quizID != "" && a.QuizID != quizID {
			continue
		}

		r, ok := byLearner[a.LearnerID]
		if !ok {
			r = &domain.LearnerResult{LearnerID: a.LearnerID}
			byLearner[a.LearnerID] = r
		}
		r.Total++
		r.TotalSeconds += sub.TimeTaken
		if sub.Correct {
			r.Correct++
		}
	}

	results := make([]domain.LearnerResult, 0, len(byLearner))
	for _, r := range byLearner {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].LearnerID < results[j].LearnerID })
	return results, nil
}
