package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

type reactionRepo struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) ReactionRepository {
	return &reactionRepo{pool: pool}
}

func (r *reactionRepo) Add(ctx context.Context, re *models.Reaction) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		re.MessageID, re.UserID, re.Emoji, re.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reactionRepo) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *reactionRepo) GetByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	return queryReactions(ctx, r.pool,
		`SELECT message_id, user_id, emoji, created_at
		 FROM reactions
		 WHERE message_id = $1
		 ORDER BY created_at, user_id`,
		messageID,
	)
}

func (r *reactionRepo) GetByChannel(ctx context.Context, channelID int64) ([]models.Reaction, error) {
	return queryReactions(ctx, r.pool,
		`SELECT r.message_id, r.user_id, r.emoji, r.created_at
		 FROM reactions r
		 INNER JOIN messages m ON m.id = r.message_id
		 WHERE m.channel_id = $1
		 ORDER BY r.created_at, r.user_id`,
		channelID,
	)
}

func queryReactions(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]models.Reaction, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []models.Reaction
	for rows.Next() {
		var re models.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, re)
	}
	return reactions, rows.Err()
}
