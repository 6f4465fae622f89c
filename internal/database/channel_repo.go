package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

type channelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepo{pool: pool}
}

func (r *channelRepo) Create(ctx context.Context, ch *models.Channel) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channels (id, slug, name, topic)
		 VALUES ($1, $2, $3, $4)`,
		ch.ID, ch.Slug, ch.Name, ch.Topic,
	)
	return err
}

func (r *channelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	ch := &models.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, name, topic FROM channels WHERE id = $1`, id,
	).Scan(&ch.ID, &ch.Slug, &ch.Name, &ch.Topic)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ch, err
}

func (r *channelRepo) GetBySlug(ctx context.Context, slug string) (*models.Channel, error) {
	ch := &models.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, name, topic FROM channels WHERE slug = $1`, slug,
	).Scan(&ch.ID, &ch.Slug, &ch.Name, &ch.Topic)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ch, err
}

func (r *channelRepo) List(ctx context.Context) ([]models.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, slug, name, topic FROM channels ORDER BY name, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.Slug, &ch.Name, &ch.Topic); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
