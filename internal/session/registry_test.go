package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"debugarena/internal/assignment"
	"debugarena/internal/domain"
	"debugarena/internal/errors"
	"debugarena/internal/event"
	"debugarena/internal/session"
	"debugarena/internal/store/memory"
	"debugarena/internal/verify"
)

func makeRegistry(t *testing.T) (*session.Registry, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.InsertQuiz(ctx, domain.Quiz{
		ID: "quiz-1", Title: "t", Language: "python", TimePerQues: 60,
	}))
	require.NoError(t, store.InsertQuestion(ctx, domain.Question{
		ID: "q1", QuizID: "quiz-1", BuggyCode: "x = 0", Solution: "x = 1",
	}))
	require.NoError(t, store.InsertAssignment(ctx, domain.Assignment{
		ID: "a1", QuizID: "quiz-1", LearnerID: "learner-1",
	}))

	loader := assignment.NewService(assignment.Config{Store: store})
	tickers := &tickerFactory{}

	r := session.NewRegistry(session.RegistryConfig{
		Loader:    loader,
		Store:     store,
		Verifier:  verify.New(verify.Config{}),
		EventBus:  event.NewBus(),
		Clock:     func() time.Time { return time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC) },
		NewTicker: tickers.new,
	})
	return r, store
}

func TestRegistry_AttachReturnsSameEngine(t *testing.T) {
	r, _ := makeRegistry(t)
	owner := domain.Identity{UserID: "learner-1"}

	first, err := r.Attach(context.Background(), "a1", owner)
	require.NoError(t, err)
	defer r.Remove("a1")

	second, err := r.Attach(context.Background(), "a1", owner)
	require.NoError(t, err)
	require.Same(t, first, second, "a reconnect attaches to the running engine")
}

func TestRegistry_OwnershipOnCachedEngine(t *testing.T) {
	r, _ := makeRegistry(t)

	_, err := r.Attach(context.Background(), "a1", domain.Identity{UserID: "learner-1"})
	require.NoError(t, err)
	defer r.Remove("a1")

	_, err = r.Attach(context.Background(), "a1", domain.Identity{UserID: "intruder"})
	require.True(t, errors.IsCode(err, errors.CodeNotFound),
		"a cached engine must not leak to another learner, got %v", err)

	_, err = r.Get("a1", domain.Identity{UserID: "intruder"})
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestRegistry_GetWithoutAttach(t *testing.T) {
	r, _ := makeRegistry(t)

	_, err := r.Get("a1", domain.Identity{UserID: "learner-1"})
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestRegistry_RemoveEvicts(t *testing.T) {
	r, _ := makeRegistry(t)
	owner := domain.Identity{UserID: "learner-1"}

	first, err := r.Attach(context.Background(), "a1", owner)
	require.NoError(t, err)

	r.Remove("a1")

	// A fresh attach loads a new engine with the same persisted order.
	second, err := r.Attach(context.Background(), "a1", owner)
	require.NoError(t, err)
	defer r.Remove("a1")
	require.NotSame(t, first, second)
	require.Equal(t, first.Snapshot().Question.ID, second.Snapshot().Question.ID)
}
