package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"debugarena/internal/assignment"
	"debugarena/internal/domain"
	"debugarena/internal/errors"
	"debugarena/internal/event"
	"debugarena/internal/verify"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "debugarena_submissions_total",
	Help: "Submissions persisted by the session engine.",
}, []string{"result", "trigger"})

// State of a running engine.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
)

// Store is the slice of storage the engine writes to.
type Store interface {
	// InsertSubmission persists exactly one submission per (assignment,
	// question); a duplicate returns CodeAlreadyExists.
	InsertSubmission(ctx context.Context, sub domain.Submission) error
	CompleteAssignment(ctx context.Context, assignmentID string, at time.Time) error
}

// CheatLog appends advisory cheat events.
type CheatLog interface {
	Record(ctx context.Context, e domain.CheatEvent) error
}

// Ticker abstracts the countdown clock so tests can drive time explicitly.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type Config struct {
	Loaded   *assignment.LoadedSession
	Store    Store
	Verifier *verify.Verifier
	Cheats   CheatLog
	EventBus *event.Bus

	// Clock and NewTicker default to real time; tests inject both.
	Clock     func() time.Time
	NewTicker func(d time.Duration) Ticker
}

// Engine drives one learner's quiz attempt: exactly one active question at a
// time, a per-question countdown that force-submits on expiry, a
// single-submission-in-flight guard, and completion bookkeeping. All mutable
// state is behind one mutex; the ticker goroutine and learner requests are the
// only writers.
type Engine struct {
	store     Store
	verifier  *verify.Verifier
	cheats    CheatLog
	eb        *event.Bus
	clock     func() time.Time
	newTicker func(d time.Duration) Ticker

	assignment domain.Assignment
	quiz       domain.Quiz
	questions  []domain.Question

	mu            sync.Mutex
	state         State
	idx           int
	buffer        string
	remaining     int
	submitting    bool
	tabSwitches   int
	questionStart time.Time
	answered      int
	correct       int
	ticker        Ticker
	tickerStop    chan struct{}
}

func New(c Config) *Engine {
	e := &Engine{
		store:      c.Store,
		verifier:   c.Verifier,
		cheats:     c.Cheats,
		eb:         c.EventBus,
		clock:      c.Clock,
		newTicker:  c.NewTicker,
		assignment: c.Loaded.Assignment,
		quiz:       c.Loaded.Quiz,
		questions:  c.Loaded.Questions,
		state:      StateActive,
		idx:        c.Loaded.ResumeIndex,
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newTicker == nil {
		e.newTicker = func(d time.Duration) Ticker {
			return realTicker{t: time.NewTicker(d)}
		}
	}

	for _, sub := range c.Loaded.Submissions {
		e.answered++
		if sub.Correct {
			e.correct++
		}
	}

	return e
}

// Start enters the resume question, or goes straight to completion when the
// assignment is already complete or every question is answered.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	if e.assignment.Completed {
		e.state = StateCompleted
		e.mu.Unlock()
		return nil
	}

	if e.idx >= len(e.questions) {
		e.mu.Unlock()
		_, err := e.complete(ctx)
		return err
	}

	e.enterLocked(e.idx)
	e.mu.Unlock()
	return nil
}

// enterLocked resets the per-question state for question i and restarts the
// countdown. Caller holds e.mu.
func (e *Engine) enterLocked(i int) {
	e.idx = i
	e.buffer = e.questions[i].BuggyCode
	e.remaining = e.quiz.TimePerQues
	e.submitting = false
	e.questionStart = e.clock()
	e.startTickerLocked()
}

func (e *Engine) startTickerLocked() {
	e.stopTickerLocked()

	t := e.newTicker(time.Second)
	stop := make(chan struct{})
	e.ticker = t
	e.tickerStop = stop

	go e.runTicker(t, stop)
}

// stopTickerLocked disposes the current countdown so no stale tick can fire
// into a question that is no longer active. Caller holds e.mu.
func (e *Engine) stopTickerLocked() {
	if e.ticker != nil {
		e.ticker.Stop()
		close(e.tickerStop)
		e.ticker = nil
		e.tickerStop = nil
	}
}

func (e *Engine) runTicker(t Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-t.C():
			if !ok {
				return
			}
			e.onTick()
		}
	}
}

// onTick decrements the countdown and, at zero, forces a submission of the
// current buffer with the full time limit recorded. A submission already in
// flight suppresses both the decrement and the auto-submit; if the forced
// write fails, the next tick retries while the storage unique key keeps the
// at-most-one-submission invariant.
func (e *Engine) onTick() {
	e.mu.Lock()
	if e.state != StateActive || e.submitting {
		e.mu.Unlock()
		return
	}

	if e.remaining > 0 {
		e.remaining--
	}
	if e.remaining > 0 {
		e.mu.Unlock()
		return
	}

	e.submitting = true
	code := e.buffer
	e.mu.Unlock()

	if _, err := e.finishSubmit(context.Background(), code, e.quiz.TimePerQues, "auto"); err != nil {
		slog.Error("session: auto-submit failed",
			"assignment", e.assignment.ID,
			"error", err,
		)
	}
}

// UpdateBuffer records the learner's latest code so a timer expiry submits
// what they actually typed.
func (e *Engine) UpdateBuffer(code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return errors.New(errors.CodeFailedPrecond, errors.WithMessagef("quiz already completed"))
	}
	if !e.submitting {
		e.buffer = code
	}
	return nil
}

// SubmitResult reports the outcome of one submission.
type SubmitResult struct {
	Correct   bool          `json:"correct"`
	Method    verify.Method `json:"method"`
	TimeTaken int           `json:"time_taken"`
	Completed bool          `json:"completed"`
	NextIndex int           `json:"next_index"`
	Tally     *domain.Tally `json:"tally,omitempty"`
}

// Submit is the learner-triggered path. It shares the verification and
// persistence pipeline with the timer's auto-submit; the in-flight guard makes
// the two mutually exclusive.
func (e *Engine) Submit(ctx context.Context, code string) (*SubmitResult, error) {
	e.mu.Lock()
	if e.state == StateCompleted || e.idx >= len(e.questions) {
		e.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecond, errors.WithMessagef("quiz already completed"))
	}
	if e.submitting {
		e.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecond, errors.WithMessagef("submission already in progress"))
	}

	e.buffer = code
	e.submitting = true
	elapsed := e.elapsedLocked()
	e.mu.Unlock()

	return e.finishSubmit(ctx, code, elapsed, "manual")
}

// elapsedLocked is wall-clock seconds since question entry, rounded, clamped
// to the question's time budget. Caller holds e.mu.
func (e *Engine) elapsedLocked() int {
	sec := int(math.Round(e.clock().Sub(e.questionStart).Seconds()))
	if sec < 0 {
		sec = 0
	}
	if sec > e.quiz.TimePerQues {
		sec = e.quiz.TimePerQues
	}
	return sec
}

func (e *Engine) finishSubmit(ctx context.Context, code string, elapsed int, trigger string) (*SubmitResult, error) {
	q := e.currentQuestion()

	out := e.verifier.Verify(ctx, e.quiz.Language, q, code)

	id, err := uuid.NewV7()
	if err != nil {
		e.abortSubmit()
		return nil, fmt.Errorf("generate submission ID: %w", err)
	}

	sub := domain.Submission{
		ID:           id.String(),
		AssignmentID: e.assignment.ID,
		QuestionID:   q.ID,
		Code:         code,
		Correct:      out.Correct,
		TimeTaken:    elapsed,
		SubmitTime:   e.clock(),
	}

	switch err := e.store.InsertSubmission(ctx, sub); {
	case err == nil:
		e.mu.Lock()
		e.answered++
		if out.Correct {
			e.correct++
		}
		e.mu.Unlock()

		submissionsTotal.WithLabelValues(resultLabel(out.Correct), trigger).Inc()

		if e.eb != nil {
			e.eb.Publish(ctx, domain.EventSubmissionRecorded{
				Submission: sub,
				QuizID:     e.quiz.ID,
				LearnerID:  e.assignment.LearnerID,
			})
		}

	case errors.IsCode(err, errors.CodeAlreadyExists):
		// The question was already answered (e.g. a second tab raced us).
		// The stored submission wins; advancing is the only sane move.
		slog.WarnContext(ctx, "session: duplicate submission ignored",
			"assignment", e.assignment.ID,
			"question", q.ID,
		)

	default:
		// Not confirmed: keep the question active so the learner can retry.
		e.abortSubmit()
		return nil, fmt.Errorf("persist submission: %w", err)
	}

	return e.advance(ctx, out, elapsed)
}

func (e *Engine) abortSubmit() {
	e.mu.Lock()
	e.submitting = false
	e.mu.Unlock()
}

func (e *Engine) advance(ctx context.Context, out verify.Outcome, elapsed int) (*SubmitResult, error) {
	e.mu.Lock()
	next := e.idx + 1
	if next < len(e.questions) {
		e.enterLocked(next)
		e.mu.Unlock()

		return &SubmitResult{
			Correct:   out.Correct,
			Method:    out.Method,
			TimeTaken: elapsed,
			NextIndex: next,
		}, nil
	}
	e.mu.Unlock()

	tally, err := e.complete(ctx)
	if err != nil {
		return nil, err
	}

	return &SubmitResult{
		Correct:   out.Correct,
		Method:    out.Method,
		TimeTaken: elapsed,
		Completed: true,
		NextIndex: len(e.questions),
		Tally:     tally,
	}, nil
}

// complete stops all timers, marks the assignment finished and reports the
// tally.
func (e *Engine) complete(ctx context.Context) (*domain.Tally, error) {
	e.mu.Lock()
	e.stopTickerLocked()
	e.state = StateCompleted
	tally := e.tallyLocked()
	e.mu.Unlock()

	now := e.clock()
	if err := e.store.CompleteAssignment(ctx, e.assignment.ID, now); err != nil {
		// Not durably completed: report it and let a later attach retry.
		e.mu.Lock()
		e.state = StateActive
		e.mu.Unlock()
		return nil, fmt.Errorf("complete assignment: %w", err)
	}

	e.assignment.Completed = true
	e.assignment.CompletedAt = &now

	if e.eb != nil {
		e.eb.Publish(ctx, domain.EventAssignmentCompleted{
			Assignment: e.assignment,
			Tally:      tally,
		})
	}

	return &tally, nil
}

func (e *Engine) tallyLocked() domain.Tally {
	total := len(e.questions)
	if total == 0 {
		// Completed short-circuit: the loader carried no question sequence,
		// only the prior submissions.
		total = e.answered
	}
	return domain.Tally{Correct: e.correct, Total: total}
}

// ReportCheat logs an advisory anti-cheat signal. It never affects scoring or
// blocks the session; failures are logged and swallowed.
func (e *Engine) ReportCheat(ctx context.Context, kind, detail string) {
	e.mu.Lock()
	if e.state == StateCompleted {
		e.mu.Unlock()
		return
	}
	if kind == domain.CheatKindTabSwitch {
		e.tabSwitches++
	}
	e.mu.Unlock()

	if e.cheats == nil {
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		slog.ErrorContext(ctx, "session: generate cheat event ID", "error", err)
		return
	}

	err = e.cheats.Record(ctx, domain.CheatEvent{
		ID:           id.String(),
		LearnerID:    e.assignment.LearnerID,
		AssignmentID: e.assignment.ID,
		Kind:         kind,
		Detail:       detail,
		OccurredAt:   e.clock(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "session: record cheat event failed",
			"assignment", e.assignment.ID,
			"kind", kind,
			"error", err,
		)
	}
}

// Question is the client-safe view of the active question: no solution, no
// expected output.
type Question struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	BuggyCode string `json:"buggy_code"`
}

// Snapshot is the engine state the API exposes.
type Snapshot struct {
	State          State         `json:"state"`
	QuizID         string        `json:"quiz_id"`
	QuizTitle      string        `json:"quiz_title"`
	Language       string        `json:"language"`
	QuestionIndex  int           `json:"question_index"`
	TotalQuestions int           `json:"total_questions"`
	Question       *Question     `json:"question,omitempty"`
	Remaining      int           `json:"remaining_seconds"`
	TimePerQues    int           `json:"time_per_question"`
	TabSwitches    int           `json:"tab_switches"`
	Tally          *domain.Tally `json:"tally,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		State:          e.state,
		QuizID:         e.quiz.ID,
		QuizTitle:      e.quiz.Title,
		Language:       e.quiz.Language,
		QuestionIndex:  e.idx,
		TotalQuestions: len(e.questions),
		Remaining:      e.remaining,
		TimePerQues:    e.quiz.TimePerQues,
		TabSwitches:    e.tabSwitches,
	}

	if e.state == StateCompleted {
		t := e.tallyLocked()
		s.Tally = &t
		s.TotalQuestions = t.Total
		return s
	}

	if e.idx >= len(e.questions) {
		// Every question answered but the completion write has not landed
		// yet; there is no active question to show.
		return s
	}

	q := e.questions[e.idx]
	s.Question = &Question{
		ID:        q.ID,
		Title:     q.Title,
		BuggyCode: q.BuggyCode,
	}
	return s
}

// PendingCompletion reports whether every question is answered but the
// completion flag has not been durably written yet.
func (e *Engine) PendingCompletion() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateActive && e.idx >= len(e.questions)
}

// LearnerID identifies the engine's owner.
func (e *Engine) LearnerID() string { return e.assignment.LearnerID }

// Close disposes the countdown. Used when an engine is evicted.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopTickerLocked()
	e.mu.Unlock()
}

func (e *Engine) currentQuestion() domain.Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.questions[e.idx]
}

func resultLabel(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}
