package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"debugarena/internal/domain"
)

const maxConcurrent = 100

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// onLeaderboardUpdated fans the new board out: once to every connected
// websocket, and once per ranked learner over Redis pub/sub so other
// frontends can route the update to their users.
func (a *API) onLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	a.hub.broadcast(Notification{Event: e.Name(), Data: l})

	if a.redis == nil {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.LearnerID, e.Name(), l)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
