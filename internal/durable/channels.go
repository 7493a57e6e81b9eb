package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/collabcore/docserver/internal/crdt"
)

// Channel is a named group of users with shared access to a set of
// documents. Channel CRUD sits at the boundary of the core — the wire
// layer needs it to resolve membership, but its schema migrations are
// external.
type Channel struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// ErrNotMember is returned when an operation requires channel membership
// the user does not hold.
var ErrNotMember = errors.New("durable: user is not a member of channel")

// ChannelStore is the channel/membership boundary consumed by the wire
// layer.
type ChannelStore interface {
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	ListChannels(ctx context.Context, userID string) ([]*Channel, error)
	JoinChannel(ctx context.Context, channelID, userID string) error
	QuitChannel(ctx context.Context, channelID, userID string) error
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
}

func (s *PostgresStore) CreateChannel(ctx context.Context, ch *Channel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channels (id, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		ch.ID, ch.Name, ch.OwnerID, ch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("durable: create channel %s: %w", ch.ID, err)
	}
	// The owner is implicitly the first member.
	return s.JoinChannel(ctx, ch.ID, ch.OwnerID)
}

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	var ch Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at FROM channels WHERE id = $1`, id).
		Scan(&ch.ID, &ch.Name, &ch.OwnerID, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get channel %s: %w", id, err)
	}
	return &ch, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, userID string) ([]*Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.owner_id, c.created_at
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.id
		WHERE m.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("durable: list channels for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.OwnerID, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("durable: scan channel row: %w", err)
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (s *PostgresStore) JoinChannel(ctx context.Context, channelID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID)
	if err != nil {
		return fmt.Errorf("durable: join channel %s: %w", channelID, err)
	}
	return nil
}

func (s *PostgresStore) QuitChannel(ctx context.Context, channelID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID)
	if err != nil {
		return fmt.Errorf("durable: quit channel %s: %w", channelID, err)
	}
	return nil
}

func (s *PostgresStore) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("durable: membership check %s/%s: %w", channelID, userID, err)
	}
	return n > 0, nil
}

// DocOwner reports whether userID created the document — owner-only
// operations (snapshot, sync, delete) gate on this.
func DocOwner(doc *crdt.Document, userID string) bool {
	return doc.CreatedBy == userID
}
