package database

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

const messageSelect = `SELECT m.id, m.channel_id, m.author_id, m.content, m.attachments, m.parent_id,
        m.nonce, m.created_at, m.edited_at,
        a.id, a.username, a.display_name, a.avatar_url, a.status, a.last_seen, a.created_at,
        p.id, p.author_id, pa.username, p.content
 FROM messages m
 INNER JOIN profiles a ON a.id = m.author_id
 LEFT JOIN messages p ON p.id = m.parent_id
 LEFT JOIN profiles pa ON pa.id = p.author_id`

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepo{pool: pool}
}

func (r *messageRepo) Create(ctx context.Context, msg *models.Message) (bool, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, attachments, parent_id, nonce, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (author_id, nonce) WHERE nonce <> '' DO NOTHING`,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, attachments, msg.ParentID, msg.Nonce, msg.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *messageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	m := &models.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id), m)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msgs := []models.Message{*m}
	if err := r.attachRelations(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (r *messageRepo) GetByNonce(ctx context.Context, authorID int64, nonce string) (*models.Message, error) {
	m := &models.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		messageSelect+` WHERE m.author_id = $1 AND m.nonce = $2 AND m.nonce <> ''`,
		authorID, nonce,
	), m)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) GetByChannelID(ctx context.Context, channelID, before int64, limit int) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx,
		messageSelect+`
		 WHERE m.channel_id = $1
		   AND ($2::bigint = 0 OR (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2))
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3`,
		channelID, before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Less(&messages[j]) })
	if err := r.attachRelations(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepo) Update(ctx context.Context, msg *models.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $2, attachments = $3, edited_at = $4
		 WHERE id = $1`,
		msg.ID, msg.Content, attachments, msg.EditedAt,
	)
	return err
}

func (r *messageRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

// attachRelations fills Reactions and Receipts of msgs in two round trips.
func (r *messageRepo) attachRelations(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		index[msgs[i].ID] = i
	}

	reactions, err := queryReactions(ctx, r.pool,
		`SELECT message_id, user_id, emoji, created_at
		 FROM reactions
		 WHERE message_id = ANY($1)
		 ORDER BY created_at, user_id`, ids)
	if err != nil {
		return err
	}
	for _, re := range reactions {
		i := index[re.MessageID]
		msgs[i].Reactions = append(msgs[i].Reactions, re)
	}

	receipts, err := queryReceipts(ctx, r.pool,
		`SELECT message_id, user_id, read_at
		 FROM read_receipts
		 WHERE message_id = ANY($1)
		 ORDER BY read_at`, ids)
	if err != nil {
		return err
	}
	for _, rc := range receipts {
		i := index[rc.MessageID]
		msgs[i].Receipts = append(msgs[i].Receipts, rc)
	}
	return nil
}

func scanMessage(row pgx.Row, m *models.Message) error {
	var (
		author         models.Profile
		parentID       *int64
		parentAuthorID *int64
		parentUsername *string
		parentContent  *string
	)
	if err := row.Scan(
		&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.Attachments, &m.ParentID,
		&m.Nonce, &m.CreatedAt, &m.EditedAt,
		&author.ID, &author.Username, &author.DisplayName, &author.AvatarURL, &author.Status, &author.LastSeen, &author.CreatedAt,
		&parentID, &parentAuthorID, &parentUsername, &parentContent,
	); err != nil {
		return err
	}
	m.Author = &author
	if parentID != nil {
		p := &models.MessagePreview{ID: *parentID}
		if parentAuthorID != nil {
			p.AuthorID = *parentAuthorID
		}
		if parentUsername != nil {
			p.AuthorUsername = *parentUsername
		}
		if parentContent != nil {
			p.Content = *parentContent
		}
		m.Parent = p
	}
	return nil
}
