package durable

import (
	"context"
	"fmt"
	"time"
)

// User is the identity row upserted by the auth endpoint.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoginRecord captures one login event for auditing.
type LoginRecord struct {
	UserID    string
	Platform  string
	IP        string
	UserAgent string
	At        time.Time
}

// UserStore is the identity boundary consumed by the auth endpoint. The
// core never calls it directly — it only sees user ids extracted from
// bearer tokens.
type UserStore interface {
	UpsertUser(ctx context.Context, u *User) error
	RecordLogin(ctx context.Context, l *LoginRecord) error
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Email, u.Name, u.AvatarURL, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("durable: upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *PostgresStore) RecordLogin(ctx context.Context, l *LoginRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_logins (user_id, platform, ip, user_agent, at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.UserID, l.Platform, l.IP, l.UserAgent, l.At)
	if err != nil {
		return fmt.Errorf("durable: record login for %s: %w", l.UserID, err)
	}
	return nil
}
