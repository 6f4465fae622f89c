package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

type typingRepo struct {
	pool *pgxpool.Pool
}

func NewTypingRepository(pool *pgxpool.Pool) TypingRepository {
	return &typingRepo{pool: pool}
}

func (r *typingRepo) Upsert(ctx context.Context, t *models.TypingIndicator) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO typing_indicators (channel_id, user_id, last_active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, user_id)
		 DO UPDATE SET last_active = EXCLUDED.last_active`,
		t.ChannelID, t.UserID, t.LastActive,
	)
	return err
}

func (r *typingRepo) Delete(ctx context.Context, channelID, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM typing_indicators WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *typingRepo) ListByChannel(ctx context.Context, channelID, excludeUserID int64, since time.Time) ([]models.TypingIndicator, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.channel_id, t.user_id, t.last_active, p.username
		 FROM typing_indicators t
		 INNER JOIN profiles p ON p.id = t.user_id
		 WHERE t.channel_id = $1 AND t.user_id <> $2 AND t.last_active > $3
		 ORDER BY t.last_active`,
		channelID, excludeUserID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TypingIndicator
	for rows.Next() {
		var t models.TypingIndicator
		if err := rows.Scan(&t.ChannelID, &t.UserID, &t.LastActive, &t.Username); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
