package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"debugarena/internal/domain"
	"debugarena/internal/event"
)

const defaultCacheTTL = 30 * time.Second

// Score weights. Position bonuses apply to the podium only; everyone else
// earns correctness and speed points.
const (
	pointsPerCorrect = 5
	speedBonusBase   = 20
	speedBonusDiv    = 6
)

var positionBonus = []int{50, 30, 10}

// Store aggregates submissions joined through completed assignments.
type Store interface {
	// AggregateResults groups by learner; quizID == "" means all quizzes.
	AggregateResults(ctx context.Context, quizID string) ([]domain.LearnerResult, error)
}

type Config struct {
	Store    Store
	Redis    redis.UniversalClient
	EventBus *event.Bus
	Prefix   string
	CacheTTL time.Duration
}

// Service computes the ranked, scored leaderboard on demand. It holds no state
// of its own: recomputation is idempotent over storage, with a short-lived
// Redis cache and singleflight dedup in front of it.
type Service struct {
	store  Store
	redis  redis.UniversalClient
	eb     *event.Bus
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
}

func NewService(c Config) *Service {
	s := &Service{
		store:  c.Store,
		redis:  c.Redis,
		eb:     c.EventBus,
		prefix: c.Prefix,
		ttl:    c.CacheTTL,
	}
	if s.ttl == 0 {
		s.ttl = defaultCacheTTL
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameAssignmentCompleted, func(ctx context.Context, e event.Event) error {
			return s.Refresh(ctx, e.(domain.EventAssignmentCompleted).Assignment.QuizID)
		})
	}

	return s
}

type GetLeaderboardRequest struct {
	// QuizID scopes the board to one quiz; empty means global.
	QuizID string
}

// GetLeaderboard returns the ranked board, serving from cache when fresh.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, s.cacheKey(req.QuizID)).Bytes()
		if err == nil {
			var l domain.Leaderboard
			if err := json.Unmarshal(raw, &l); err == nil {
				return &l, nil
			}
		}
	}

	v, err, _ := s.sf.Do(req.QuizID, func() (any, error) {
		return s.compute(ctx, req.QuizID)
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Leaderboard), nil
}

// Refresh recomputes the board for a quiz (and the global board), refills the
// cache and publishes leaderboard.updated.
func (s *Service) Refresh(ctx context.Context, quizID string) error {
	scopes := []string{""}
	if quizID != "" {
		scopes = append(scopes, quizID)
	}

	for _, scope := range scopes {
		l, err := s.compute(ctx, scope)
		if err != nil {
			return fmt.Errorf("refresh leaderboard: scope=%q: %w", scope, err)
		}

		if s.eb != nil {
			s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
		}
	}

	return nil
}

func (s *Service) compute(ctx context.Context, quizID string) (*domain.Leaderboard, error) {
	results, err := s.store.AggregateResults(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("aggregate results: %w", err)
	}

	l := &domain.Leaderboard{
		QuizID:  quizID,
		Entries: Rank(results),
	}

	if s.redis != nil {
		if raw, err := json.Marshal(l); err == nil {
			// Cache fill is best effort; storage stays the source of truth.
			_ = s.redis.Set(ctx, s.cacheKey(quizID), raw, s.ttl).Err()
		}
	}

	return l, nil
}

// Rank sorts learner aggregates into the final board and scores each entry.
// Ordering is a strict chain: correct count descending, then total elapsed
// seconds ascending, then learner ID for determinism.
func Rank(results []domain.LearnerResult) []domain.LeaderboardEntry {
	sorted := make([]domain.LearnerResult, len(results))
	copy(sorted, results)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Correct != sorted[j].Correct {
			return sorted[i].Correct > sorted[j].Correct
		}
		if sorted[i].TotalSeconds != sorted[j].TotalSeconds {
			return sorted[i].TotalSeconds < sorted[j].TotalSeconds
		}
		return sorted[i].LearnerID < sorted[j].LearnerID
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for rank, r := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			LearnerID:    r.LearnerID,
			Rank:         rank,
			Correct:      r.Correct,
			Total:        r.Total,
			TotalSeconds: r.TotalSeconds,
			Score:        scoreFor(rank, r),
		})
	}

	return entries
}

func scoreFor(rank int, r domain.LearnerResult) int {
	score := pointsPerCorrect * r.Correct
	if rank < len(positionBonus) {
		score += positionBonus[rank]
	}
	return score + speedBonus(r)
}

// speedBonus is max(0, round(20 - avg/6)) where avg is seconds per question.
// An entry with no answered questions earns nothing.
func speedBonus(r domain.LearnerResult) int {
	if r.Total == 0 {
		return 0
	}

	avg := decimal.NewFromInt(int64(r.TotalSeconds)).
		Div(decimal.NewFromInt(int64(r.Total)))
	bonus := decimal.NewFromInt(speedBonusBase).
		Sub(avg.Div(decimal.NewFromInt(speedBonusDiv))).
		Round(0)

	if bonus.IsNegative() {
		return 0
	}
	return int(bonus.IntPart())
}

func (s *Service) cacheKey(quizID string) string {
	if quizID == "" {
		return fmt.Sprintf("%s:global:board", s.prefix)
	}
	return fmt.Sprintf("%s:quiz:%s:board", s.prefix, quizID)
}
