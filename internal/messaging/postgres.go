// internal/messaging/postgres.go

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const messageColumns = `
	m.id, m.client_id, m.conversation_id, m.content, m.type, m.created_at,
	m.edited_at, m.deleted_at, m.pinned_at, m.pinned_by, m.version,
	u.id AS sender_id, u.username AS sender_username,
	u.display_name AS sender_display_name, u.avatar_url AS sender_avatar_url,
	r.id AS reply_id, r.content AS reply_content, r.deleted_at AS reply_deleted_at,
	COALESCE(NULLIF(ru.display_name, ''), ru.username) AS reply_sender_name,
	f.id AS forward_id, f.conversation_id AS forward_conversation_id,
	COALESCE(NULLIF(fu.display_name, ''), fu.username) AS forward_sender_name`

const messageJoins = `
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN messages r ON r.id = m.reply_to_id
	LEFT JOIN users ru ON ru.id = r.sender_id
	LEFT JOIN messages f ON f.id = m.forwarded_from_id
	LEFT JOIN users fu ON fu.id = f.sender_id`

type messageRow struct {
	ID             string         `db:"id"`
	ClientID       sql.NullString `db:"client_id"`
	ConversationID string         `db:"conversation_id"`
	Content        string         `db:"content"`
	Type           string         `db:"type"`
	CreatedAt      time.Time      `db:"created_at"`
	EditedAt       *time.Time     `db:"edited_at"`
	DeletedAt      *time.Time     `db:"deleted_at"`
	PinnedAt       *time.Time     `db:"pinned_at"`
	PinnedBy       *string        `db:"pinned_by"`
	Version        int64          `db:"version"`

	SenderID          string  `db:"sender_id"`
	SenderUsername    string  `db:"sender_username"`
	SenderDisplayName string  `db:"sender_display_name"`
	SenderAvatarURL   *string `db:"sender_avatar_url"`

	ReplyID         *string    `db:"reply_id"`
	ReplyContent    *string    `db:"reply_content"`
	ReplyDeletedAt  *time.Time `db:"reply_deleted_at"`
	ReplySenderName *string    `db:"reply_sender_name"`

	ForwardID             *string `db:"forward_id"`
	ForwardConversationID *string `db:"forward_conversation_id"`
	ForwardSenderName     *string `db:"forward_sender_name"`
}

func (row *messageRow) toMessage() *Message {
	msg := &Message{
		ID:             row.ID,
		ClientID:       row.ClientID.String,
		ConversationID: row.ConversationID,
		Sender: UserInfo{
			ID:          row.SenderID,
			Username:    row.SenderUsername,
			DisplayName: row.SenderDisplayName,
			AvatarURL:   row.SenderAvatarURL,
		},
		Content:   row.Content,
		Type:      MessageType(row.Type),
		CreatedAt: row.CreatedAt,
		EditedAt:  row.EditedAt,
		DeletedAt: row.DeletedAt,
		PinnedAt:  row.PinnedAt,
		IsPinned:  row.PinnedAt != nil,
		PinnedBy:  row.PinnedBy,
		Reactions: []Reaction{},
		Version:   row.Version,
	}
	if row.ReplyID != nil {
		msg.ReplyTo = &ReplyRef{MessageID: *row.ReplyID, SenderName: deref(row.ReplySenderName)}
		if row.ReplyDeletedAt == nil {
			msg.ReplyTo.Content = deref(row.ReplyContent)
		}
	}
	if row.ForwardID != nil {
		msg.ForwardedFrom = &ForwardRef{
			MessageID:      *row.ForwardID,
			ConversationID: deref(row.ForwardConversationID),
			SenderName:     deref(row.ForwardSenderName),
		}
	}
	return msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Users

func (r *postgresRepository) UpsertUser(ctx context.Context, user *UserInfo) error {
	query := `
		INSERT INTO users (id, username, display_name, avatar_url, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
			email = COALESCE(EXCLUDED.email, users.email),
			phone = COALESCE(EXCLUDED.phone, users.phone),
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.DisplayName, user.AvatarURL, user.Email, user.Phone)
	return err
}

func (r *postgresRepository) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	var user UserInfo
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, display_name, avatar_url, email, phone FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Conversations

func (r *postgresRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, avatar_url, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.Kind, conv.Name, conv.AvatarURL, conv.CreatedBy, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range conv.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`,
			conv.ID, p.UserID, p.Role, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}

	return tx.Commit()
}

func (r *postgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT id, kind, name, avatar_url, created_by, created_at
		FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	parts, err := r.loadParticipants(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	conv.Participants = parts[id]
	return &conv, nil
}

func (r *postgresRepository) GetDirectConversation(ctx context.Context, user1ID, user2ID string) (*Conversation, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `
		SELECT c.id FROM conversations c
		JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = $1 AND a.left_at IS NULL
		JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = $2 AND b.left_at IS NULL
		WHERE c.kind = 'direct'
		LIMIT 1`, user1ID, user2ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetConversation(ctx, id)
}

type conversationRow struct {
	ID           string           `db:"id"`
	Kind         ConversationKind `db:"kind"`
	Name         string           `db:"name"`
	AvatarURL    *string          `db:"avatar_url"`
	CreatedBy    string           `db:"created_by"`
	CreatedAt    time.Time        `db:"created_at"`
	UnreadCount  int              `db:"unread_count"`
	IsMuted      bool             `db:"is_muted"`
	PinnedCount  int              `db:"pinned_count"`
	LastActivity time.Time        `db:"last_activity"`
}

func (r *postgresRepository) GetUserConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.kind, c.name, c.avatar_url, c.created_by, c.created_at,
			p.unread_count, p.is_muted,
			(SELECT COUNT(*) FROM messages pm
				WHERE pm.conversation_id = c.id AND pm.pinned_at IS NOT NULL AND pm.deleted_at IS NULL) AS pinned_count,
			COALESCE((SELECT MAX(lm.created_at) FROM messages lm WHERE lm.conversation_id = c.id), c.created_at) AS last_activity
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.left_at IS NULL
		ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*Conversation{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	parts, err := r.loadParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	last, err := r.loadLastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	convs := make([]*Conversation, 0, len(rows))
	for _, row := range rows {
		conv := &Conversation{
			ID:           row.ID,
			Kind:         row.Kind,
			Name:         row.Name,
			AvatarURL:    row.AvatarURL,
			CreatedBy:    row.CreatedBy,
			CreatedAt:    row.CreatedAt,
			Participants: parts[row.ID],
			UnreadCount:  row.UnreadCount,
			HasUnread:    row.UnreadCount > 0,
			IsMuted:      row.IsMuted,
			PinnedCount:  row.PinnedCount,
		}
		if m, ok := last[row.ID]; ok {
			conv.LastMessage = m.Summary()
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (r *postgresRepository) loadLastMessages(ctx context.Context, convIDs []string) (map[string]*Message, error) {
	var rows []messageRow
	query := `SELECT DISTINCT ON (m.conversation_id)` + messageColumns + messageJoins + `
		WHERE m.conversation_id = ANY($1)
		ORDER BY m.conversation_id, m.created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(convIDs)); err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}

	out := make(map[string]*Message, len(rows))
	for i := range rows {
		out[rows[i].ConversationID] = rows[i].toMessage()
	}
	return out, nil
}

func (r *postgresRepository) RenameConversation(ctx context.Context, id, name string) error {
	return r.execOne(ctx, ErrConversationNotFound,
		`UPDATE conversations SET name = $2 WHERE id = $1`, id, name)
}

func (r *postgresRepository) UpdateConversationAvatar(ctx context.Context, id, avatarURL string) error {
	return r.execOne(ctx, ErrConversationNotFound,
		`UPDATE conversations SET avatar_url = $2 WHERE id = $1`, id, avatarURL)
}

// Participants

type participantRow struct {
	ConversationID string          `db:"conversation_id"`
	UserID         string          `db:"user_id"`
	Role           ParticipantRole `db:"role"`
	JoinedAt       time.Time       `db:"joined_at"`
	IsMuted        bool            `db:"is_muted"`
	UnreadCount    int             `db:"unread_count"`
	Username       string          `db:"username"`
	DisplayName    string          `db:"display_name"`
	AvatarURL      *string         `db:"avatar_url"`
}

func (r *postgresRepository) loadParticipants(ctx context.Context, convIDs []string) (map[string][]*Participant, error) {
	var rows []participantRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT p.conversation_id, p.user_id, p.role, p.joined_at, p.is_muted, p.unread_count,
			u.username, u.display_name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1) AND p.left_at IS NULL
		ORDER BY p.joined_at`, pq.Array(convIDs))
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	out := make(map[string][]*Participant, len(convIDs))
	for _, row := range rows {
		out[row.ConversationID] = append(out[row.ConversationID], &Participant{
			UserID:      row.UserID,
			Role:        row.Role,
			JoinedAt:    row.JoinedAt,
			IsMuted:     row.IsMuted,
			UnreadCount: row.UnreadCount,
			User: &UserInfo{
				ID:          row.UserID,
				Username:    row.Username,
				DisplayName: row.DisplayName,
				AvatarURL:   row.AvatarURL,
			},
		})
	}
	return out, nil
}

func (r *postgresRepository) GetConversationParticipants(ctx context.Context, convID string) ([]*Participant, error) {
	parts, err := r.loadParticipants(ctx, []string{convID})
	if err != nil {
		return nil, err
	}
	return parts[convID], nil
}

func (r *postgresRepository) IsUserInConversation(ctx context.Context, userID, convID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
		)`, convID, userID)
	return exists, err
}

func (r *postgresRepository) RemoveParticipant(ctx context.Context, convID, userID string) error {
	return r.execOne(ctx, ErrNotParticipant, `
		UPDATE conversation_participants SET left_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`, convID, userID)
}

func (r *postgresRepository) ToggleMuted(ctx context.Context, convID, userID string) (bool, error) {
	var muted bool
	err := r.db.GetContext(ctx, &muted, `
		UPDATE conversation_participants SET is_muted = NOT is_muted
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
		RETURNING is_muted`, convID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotParticipant
	}
	return muted, err
}

func (r *postgresRepository) IncrementUnreadCount(ctx context.Context, convID, exceptUserID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2 AND left_at IS NULL`, convID, exceptUserID)
	return err
}

func (r *postgresRepository) ResetUnreadCount(ctx context.Context, convID, userID string) error {
	return r.execOne(ctx, ErrNotParticipant, `
		UPDATE conversation_participants SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`, convID, userID)
}

// Messages

func (r *postgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	var replyTo, forwardedFrom sql.NullString
	if msg.ReplyTo != nil {
		replyTo = nullString(msg.ReplyTo.MessageID)
	}
	if msg.ForwardedFrom != nil {
		forwardedFrom = nullString(msg.ForwardedFrom.MessageID)
	}

	err := r.db.GetContext(ctx, &msg.Version, `
		INSERT INTO messages (
			id, client_id, conversation_id, sender_id, content, type,
			reply_to_id, forwarded_from_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING version`,
		msg.ID, nullString(msg.ClientID), msg.ConversationID, msg.Sender.ID, msg.Content, msg.Type,
		replyTo, forwardedFrom, msg.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return ErrConversationNotFound
	}
	return err
}

func (r *postgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	return r.getMessage(ctx, r.db, `m.id = $1`, id)
}

func (r *postgresRepository) GetMessageByClientID(ctx context.Context, senderID, clientID string) (*Message, error) {
	return r.getMessage(ctx, r.db, `m.sender_id = $1 AND m.client_id = $2`, senderID, clientID)
}

// getMessage reads one message through q, which may be a transaction.
func (r *postgresRepository) getMessage(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) (*Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT`+messageColumns+messageJoins+` WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	msgs := []*Message{row.toMessage()}
	if err := loadReactions(ctx, q, msgs); err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// GetConversationMessages returns the newest limit messages in ascending order.
func (r *postgresRepository) GetConversationMessages(ctx context.Context, convID string, limit int) ([]*Message, error) {
	query := `SELECT * FROM (SELECT` + messageColumns + messageJoins + `
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2) recent
		ORDER BY created_at ASC`
	return r.selectMessages(ctx, query, convID, limit)
}

func (r *postgresRepository) GetPinnedMessages(ctx context.Context, convID string) ([]*Message, error) {
	query := `SELECT` + messageColumns + messageJoins + `
		WHERE m.conversation_id = $1 AND m.pinned_at IS NOT NULL AND m.deleted_at IS NULL
		ORDER BY m.pinned_at DESC`
	return r.selectMessages(ctx, query, convID)
}

func (r *postgresRepository) selectMessages(ctx context.Context, query string, args ...interface{}) ([]*Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	msgs := make([]*Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toMessage()
	}
	if err := loadReactions(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	Reaction
}

func loadReactions(ctx context.Context, q sqlx.QueryerContext, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	var rows []reactionRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT message_id, emoji, user_id, created_at FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	for _, row := range rows {
		if m, ok := byID[row.MessageID]; ok {
			m.Reactions = append(m.Reactions, row.Reaction)
		}
	}
	return nil
}

// lockedMessage is the state a mutation decides on, read under FOR UPDATE.
type lockedMessage struct {
	DeletedAt *time.Time `db:"deleted_at"`
	PinnedAt  *time.Time `db:"pinned_at"`
}

// mutateMessage locks the message row, lets apply write the columns it owns
// and returns the row as committed, reactions included.
func (r *postgresRepository) mutateMessage(ctx context.Context, id string, apply func(tx *sqlx.Tx, cur lockedMessage) error) (*Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var cur lockedMessage
	err = tx.GetContext(ctx, &cur, `SELECT deleted_at, pinned_at FROM messages WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := apply(tx, cur); err != nil {
		return nil, err
	}
	msg, err := r.getMessage(ctx, tx, `m.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *postgresRepository) EditMessage(ctx context.Context, id, content string, editedAt time.Time) (*Message, error) {
	return r.mutateMessage(ctx, id, func(tx *sqlx.Tx, cur lockedMessage) error {
		if cur.DeletedAt != nil {
			return ErrMessageDeleted
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE messages SET content = $2, edited_at = $3, version = version + 1
			WHERE id = $1`, id, content, editedAt)
		return err
	})
}

// DeleteMessage tombstones the message. changed is false when it already was.
func (r *postgresRepository) DeleteMessage(ctx context.Context, id string, deletedAt time.Time) (msg *Message, changed bool, err error) {
	msg, err = r.mutateMessage(ctx, id, func(tx *sqlx.Tx, cur lockedMessage) error {
		if cur.DeletedAt != nil {
			return nil
		}
		changed = true
		_, err := tx.ExecContext(ctx, `
			UPDATE messages SET content = '', deleted_at = $2, version = version + 1
			WHERE id = $1`, id, deletedAt)
		return err
	})
	return msg, changed, err
}

func (r *postgresRepository) TogglePin(ctx context.Context, id, userID string, at time.Time) (*Message, error) {
	return r.mutateMessage(ctx, id, func(tx *sqlx.Tx, cur lockedMessage) error {
		if cur.DeletedAt != nil {
			return ErrMessageDeleted
		}
		var err error
		if cur.PinnedAt != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE messages SET pinned_at = NULL, pinned_by = NULL, version = version + 1
				WHERE id = $1`, id)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE messages SET pinned_at = $2, pinned_by = $3, version = version + 1
				WHERE id = $1`, id, at, userID)
		}
		return err
	})
}

// ToggleReaction adds or removes one (user, emoji) reaction. The version bump
// runs first so concurrent toggles on the same message serialise on its row.
func (r *postgresRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) ([]Reaction, int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var version int64
	err = tx.GetContext(ctx, &version,
		`UPDATE messages SET version = version + 1 WHERE id = $1 RETURNING version`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrMessageNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return nil, 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, NOW())`, messageID, userID, emoji)
		if err != nil {
			return nil, 0, err
		}
	}

	reactions := []Reaction{}
	err = tx.SelectContext(ctx, &reactions, `
		SELECT emoji, user_id, created_at FROM message_reactions
		WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, 0, err
	}

	return reactions, version, tx.Commit()
}

type searchRow struct {
	messageRow
	ConversationName string `db:"conversation_name"`
}

func (r *postgresRepository) SearchMessages(ctx context.Context, userID, query string, limit int) ([]*SearchResult, error) {
	var rows []searchRow
	q := `SELECT` + messageColumns + `, c.name AS conversation_name` + messageJoins + `
		JOIN conversations c ON c.id = m.conversation_id
		JOIN conversation_participants p
			ON p.conversation_id = m.conversation_id AND p.user_id = $1 AND p.left_at IS NULL
		WHERE m.deleted_at IS NULL AND m.content ILIKE $2 ESCAPE '\'
		ORDER BY m.created_at DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &rows, q, userID, "%"+escapeLike(query)+"%", limit); err != nil {
		return nil, err
	}

	results := make([]*SearchResult, len(rows))
	msgs := make([]*Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toMessage()
		results[i] = &SearchResult{Message: msgs[i], ConversationName: rows[i].ConversationName}
	}
	if err := loadReactions(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// execOne runs an UPDATE that must touch exactly one row.
func (r *postgresRepository) execOne(ctx context.Context, notFound error, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
