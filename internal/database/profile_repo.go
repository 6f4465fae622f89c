package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

const profileColumns = `id, username, display_name, avatar_url, status, last_seen, created_at`

type profileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepo{pool: pool}
}

func (r *profileRepo) Create(ctx context.Context, p *models.Profile) error {
	if p.Status == "" {
		p.Status = models.StatusOffline
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, username, display_name, avatar_url, status, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.Status, p.LastSeen, p.CreatedAt,
	)
	return err
}

func (r *profileRepo) GetByID(ctx context.Context, id int64) (*models.Profile, error) {
	p := &models.Profile{}
	err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id,
	), p)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *profileRepo) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	p := &models.Profile{}
	err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = $1`, username,
	), p)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *profileRepo) UpdateStatus(ctx context.Context, id int64, status string, lastSeen time.Time) (*models.Profile, error) {
	p := &models.Profile{}
	err := scanProfile(r.pool.QueryRow(ctx,
		`UPDATE profiles SET status = $2, last_seen = $3
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id, status, lastSeen,
	), p)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanProfile(row pgx.Row, p *models.Profile) error {
	return row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Status, &p.LastSeen, &p.CreatedAt)
}
