package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"debugarena/internal/domain"
	"debugarena/internal/event"
	"debugarena/internal/leaderboard"
	"debugarena/internal/store/memory"
)

func TestRank(t *testing.T) {
	tests := map[string]struct {
		in   []domain.LearnerResult
		want []domain.LeaderboardEntry
	}{
		"orders by correct desc then seconds asc": {
			in: []domain.LearnerResult{
				{LearnerID: "slow", Correct: 5, Total: 5, TotalSeconds: 120},
				{LearnerID: "fast", Correct: 5, Total: 5, TotalSeconds: 90},
				{LearnerID: "third", Correct: 3, Total: 5, TotalSeconds: 200},
			},
			want: []domain.LeaderboardEntry{
				// 50 + 5*5 + round(20 - 18/6) = 50 + 25 + 17
				{LearnerID: "fast", Rank: 0, Correct: 5, Total: 5, TotalSeconds: 90, Score: 92},
				// 30 + 25 + round(20 - 24/6) = 30 + 25 + 16
				{LearnerID: "slow", Rank: 1, Correct: 5, Total: 5, TotalSeconds: 120, Score: 71},
				// 10 + 15 + round(20 - 40/6) = 10 + 15 + 13
				{LearnerID: "third", Rank: 2, Correct: 3, Total: 5, TotalSeconds: 200, Score: 38},
			},
		},

		"full tie breaks on learner id": {
			in: []domain.LearnerResult{
				{LearnerID: "bob", Correct: 2, Total: 2, TotalSeconds: 30},
				{LearnerID: "alice", Correct: 2, Total: 2, TotalSeconds: 30},
			},
			want: []domain.LeaderboardEntry{
				// 50 + 10 + round(20 - 15/6) = 50 + 10 + 18
				{LearnerID: "alice", Rank: 0, Correct: 2, Total: 2, TotalSeconds: 30, Score: 78},
				{LearnerID: "bob", Rank: 1, Correct: 2, Total: 2, TotalSeconds: 30, Score: 58},
			},
		},

		"slow learner earns no speed bonus": {
			in: []domain.LearnerResult{
				// avg 150s: 20 - 25 is negative, clamps to zero.
				{LearnerID: "u1", Correct: 1, Total: 2, TotalSeconds: 300},
			},
			want: []domain.LeaderboardEntry{
				{LearnerID: "u1", Rank: 0, Correct: 1, Total: 2, TotalSeconds: 300, Score: 55},
			},
		},

		"beyond the podium no position bonus": {
			in: []domain.LearnerResult{
				{LearnerID: "a", Correct: 4, Total: 4, TotalSeconds: 40},
				{LearnerID: "b", Correct: 3, Total: 4, TotalSeconds: 40},
				{LearnerID: "c", Correct: 2, Total: 4, TotalSeconds: 40},
				{LearnerID: "d", Correct: 1, Total: 4, TotalSeconds: 40},
			},
			want: []domain.LeaderboardEntry{
				// speed bonus for all: round(20 - 10/6) = 18
				{LearnerID: "a", Rank: 0, Correct: 4, Total: 4, TotalSeconds: 40, Score: 88},
				{LearnerID: "b", Rank: 1, Correct: 3, Total: 4, TotalSeconds: 40, Score: 63},
				{LearnerID: "c", Rank: 2, Correct: 2, Total: 4, TotalSeconds: 40, Score: 38},
				{LearnerID: "d", Rank: 3, Correct: 1, Total: 4, TotalSeconds: 40, Score: 23},
			},
		},

		"empty input": {
			in:   nil,
			want: []domain.LeaderboardEntry{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, leaderboard.Rank(tt.in))
		})
	}
}

func TestService_GetLeaderboard(t *testing.T) {
	store := memory.NewStore()
	seedCompletedAssignment(t, store, "quiz-1", "u1", "a1", []sub{
		{q: "q1", correct: true, seconds: 10},
		{q: "q2", correct: true, seconds: 20},
	})
	seedCompletedAssignment(t, store, "quiz-1", "u2", "a2", []sub{
		{q: "q1", correct: true, seconds: 5},
		{q: "q2", correct: false, seconds: 15},
	})

	s := makeService(t, withStore(store))

	l, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{QuizID: "quiz-1"})
	require.NoError(t, err)
	require.Equal(t, "quiz-1", l.QuizID)
	require.Len(t, l.Entries, 2)
	require.Equal(t, "u1", l.Entries[0].LearnerID)
	require.Equal(t, "u2", l.Entries[1].LearnerID)

	// Incomplete assignments never count.
	require.NoError(t, store.InsertAssignment(context.Background(), domain.Assignment{
		ID: "a3", QuizID: "quiz-1", LearnerID: "u3",
	}))
	require.NoError(t, store.InsertSubmission(context.Background(), domain.Submission{
		ID: "s-a3", AssignmentID: "a3", QuestionID: "q1", Correct: true, TimeTaken: 1, SubmitTime: time.Now(),
	}))

	s2 := makeService(t, withStore(store))
	l, err = s2.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{QuizID: "quiz-1"})
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
}

func TestService_GetLeaderboard_ServesFromCache(t *testing.T) {
	store := memory.NewStore()
	seedCompletedAssignment(t, store, "quiz-1", "u1", "a1", []sub{
		{q: "q1", correct: true, seconds: 10},
	})

	s := makeService(t, withStore(store))

	first, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{QuizID: "quiz-1"})
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)

	// New results land but the cache is still fresh.
	seedCompletedAssignment(t, store, "quiz-1", "u2", "a2", []sub{
		{q: "q1", correct: true, seconds: 5},
	})

	cached, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{QuizID: "quiz-1"})
	require.NoError(t, err)
	require.Len(t, cached.Entries, 1, "within the TTL the cached board is served")

	// A refresh recomputes and refills the cache.
	require.NoError(t, s.Refresh(context.Background(), "quiz-1"))

	fresh, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{QuizID: "quiz-1"})
	require.NoError(t, err)
	require.Len(t, fresh.Entries, 2)
}

func TestService_RefreshOnAssignmentCompleted(t *testing.T) {
	store := memory.NewStore()
	seedCompletedAssignment(t, store, "quiz-1", "u1", "a1", []sub{
		{q: "q1", correct: true, seconds: 10},
	})

	eb := event.NewBus()

	var (
		mu        sync.Mutex
		published []domain.EventLeaderboardUpdated
	)
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	makeService(t, withStore(store), withEventBus(eb))

	eb.Publish(context.Background(), domain.EventAssignmentCompleted{
		Assignment: domain.Assignment{ID: "a1", QuizID: "quiz-1", LearnerID: "u1", Completed: true},
		Tally:      domain.Tally{Correct: 1, Total: 1},
	})

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2, "one update for the global board, one for the quiz board")

	scopes := map[string]bool{}
	for _, e := range published {
		scopes[e.Leaderboard.QuizID] = true
	}
	require.True(t, scopes[""], "global board update missing")
	require.True(t, scopes["quiz-1"], "quiz board update missing")
}

type sub struct {
	q       string
	correct bool
	seconds int
}

func seedCompletedAssignment(t *testing.T, store *memory.Store, quizID, learnerID, assignmentID string, subs []sub) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.InsertAssignment(ctx, domain.Assignment{
		ID:        assignmentID,
		QuizID:    quizID,
		LearnerID: learnerID,
	}))
	for i, s := range subs {
		require.NoError(t, store.InsertSubmission(ctx, domain.Submission{
			ID:           assignmentID + "-" + s.q,
			AssignmentID: assignmentID,
			QuestionID:   s.q,
			Correct:      s.correct,
			TimeTaken:    s.seconds,
			SubmitTime:   time.Now().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.CompleteAssignment(ctx, assignmentID, time.Now()))
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		Redis:  rc,
		Prefix: "debugarena-test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withStore(s leaderboard.Store) options {
	return func(c *leaderboard.Config) {
		c.Store = s
	}
}

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
