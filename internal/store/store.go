package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Conversation is one logical chat, owned by a user or a guest.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerKind string    `json:"owner_kind"` // "user" or "guest"
	OwnerID   string    `json:"owner_id"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	Seq            int       `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation inserts a new conversation for the given owner and
// returns its id.
func (s *Store) CreateConversation(ctx context.Context, ownerKind, ownerID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (owner_kind, owner_id)
		VALUES ($1, $2)
		RETURNING id
	`, ownerKind, ownerID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_kind, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerKind, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// InsertMessage appends one turn to a conversation. Seq is assigned by
// the caller (the session numbers turns monotonically).
func (s *Store) InsertMessage(ctx context.Context, conversationID string, m Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (conversation_id, role, content, seq)
		VALUES ($1, $2, $3, $4)
	`, conversationID, m.Role, m.Content, m.Seq)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in turn order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, seq, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SetConversationTitle sets the display title (typically the summary of
// the first exchange).
func (s *Store) SetConversationTitle(ctx context.Context, conversationID, title string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1
	`, conversationID, title)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

// AdoptGuestMessages creates a conversation owned by userID and appends
// the buffered guest messages in order, in one transaction. Returns the
// new conversation id.
func (s *Store) AdoptGuestMessages(ctx context.Context, userID string, messages []Message, summary string) (string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin adopt: %w", err)
	}
	defer tx.Rollback(ctx)

	var conversationID string
	var title *string
	if summary != "" {
		title = &summary
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (owner_kind, owner_id, title)
		VALUES ('user', $1, $2)
		RETURNING id
	`, userID, title).Scan(&conversationID)
	if err != nil {
		return "", fmt.Errorf("adopt conversation: %w", err)
	}

	for i, m := range messages {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (conversation_id, role, content, seq)
			VALUES ($1, $2, $3, $4)
		`, conversationID, m.Role, m.Content, i+1)
		if err != nil {
			return "", fmt.Errorf("adopt message %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit adopt: %w", err)
	}
	return conversationID, nil
}

// UsageSummary aggregates ended sessions over a reporting window.
type UsageSummary struct {
	Sessions       int
	TotalCostCents int
}

// UsageSince counts sessions that ended after the cutoff and sums their
// estimated provider cost.
func (s *Store) UsageSince(ctx context.Context, since time.Time) (UsageSummary, error) {
	var sum UsageSummary
	err := s.db.QueryRow(ctx, `
		SELECT count(*), coalesce(sum((event_data->>'estimated_cost_cents')::int), 0)
		FROM session_events
		WHERE event_type = 'session_ended' AND created_at >= $1
	`, since).Scan(&sum.Sessions, &sum.TotalCostCents)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("usage since: %w", err)
	}
	return sum, nil
}

// GetUserPlan returns the user's plan, defaulting to "free" when the
// user has no plan row.
func (s *Store) GetUserPlan(ctx context.Context, userID string) (string, error) {
	var plan string
	err := s.db.QueryRow(ctx, `
		SELECT plan FROM user_plans WHERE user_id = $1
	`, userID).Scan(&plan)
	if err == pgx.ErrNoRows {
		return "free", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user plan: %w", err)
	}
	return plan, nil
}
