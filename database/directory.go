package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirectoryStore is the SQL-backed user and team directory.
type DirectoryStore struct {
	db *sql.DB
}

func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

// UserExists reports whether email is a known user.
func (s *DirectoryStore) UserExists(ctx context.Context, email string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, "SELECT email FROM users WHERE email = ?", email).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return true, nil
}

// TeamMembers returns the current members of a team. An unknown team has no
// members.
func (s *DirectoryStore) TeamMembers(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_email FROM team_members WHERE team_tag = ? ORDER BY user_email", tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, email)
	}
	return members, rows.Err()
}

// TeamsOf returns the tags of every team email belongs to.
func (s *DirectoryStore) TeamsOf(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT team_tag FROM team_members WHERE user_email = ? ORDER BY team_tag", email)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// UpsertUser creates or renames a user.
func (s *DirectoryStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, display_name) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET display_name = excluded.display_name
	`, u.Email, u.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpsertTeam replaces a team's name and member list. Members that are not yet
// users are created.
func (s *DirectoryStore) UpsertTeam(ctx context.Context, t Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (tag, name) VALUES (?, ?)
		ON CONFLICT(tag) DO UPDATE SET name = excluded.name
	`, t.Tag, t.Name); err != nil {
		return fmt.Errorf("failed to upsert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM team_members WHERE team_tag = ?", t.Tag); err != nil {
		return fmt.Errorf("failed to clear team members: %w", err)
	}
	for _, m := range t.Members {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO users (email) VALUES (?)", m); err != nil {
			return fmt.Errorf("failed to insert member user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO team_members (team_tag, user_email) VALUES (?, ?)", t.Tag, m); err != nil {
			return fmt.Errorf("failed to insert team member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DirectorySeed is the YAML layout accepted by Seed.
type DirectorySeed struct {
	Users []User `yaml:"users"`
	Teams []Team `yaml:"teams"`
}

// LoadSeedFile reads a directory seed file.
func LoadSeedFile(path string) (*DirectorySeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed DirectorySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Seed loads users then teams into the directory.
func (s *DirectoryStore) Seed(ctx context.Context, seed *DirectorySeed) error {
	for _, u := range seed.Users {
		u.Email = strings.TrimSpace(u.Email)
		if u.Email == "" {
			return fmt.Errorf("seed user with empty email")
		}
		if err := s.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for _, t := range seed.Teams {
		if strings.TrimSpace(t.Tag) == "" {
			return fmt.Errorf("seed team with empty tag")
		}
		if err := s.UpsertTeam(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
