package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is the display profile the identity provider supplies.
// Consumed read-only when constructing presence records and sender
// metadata; profile management itself lives outside the chat core.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName is the name shown in typing indicators.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.ID
	}
}

// Provider resolves user IDs to display profiles.
type Provider interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// PostgresProvider reads the profiles table maintained by the identity
// system.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) Profile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	err := p.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, COALESCE(avatar, '')
		FROM profiles WHERE id = $1
	`, userID).Scan(&profile.ID, &profile.FirstName, &profile.LastName, &profile.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}
