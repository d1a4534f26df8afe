package notify

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"policyreader/internal/models"
)

// PgPublisher sends events with pg_notify so any LISTENer on the channel
// receives them.
type PgPublisher struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPgPublisher(pool *pgxpool.Pool, channel string) *PgPublisher {
	return &PgPublisher{pool: pool, channel: channel}
}

func (p *PgPublisher) Name() string { return "postgres" }

func (p *PgPublisher) Publish(ctx context.Context, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(b))
	return err
}
