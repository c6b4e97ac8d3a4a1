package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser inserts or renames a user. An empty name keeps the existing one.
func (db *DB) UpsertUser(u *User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END`,
		u.ID, u.Name, now)
	return err
}

// BulkUpsertUsers inserts or updates multiple users in a single transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	now := time.Now().UnixMilli()
	return db.inTx(func(tx *sql.Tx) error {
		for _, u := range users {
			if u.ID == "" {
				return fmt.Errorf("user id is required")
			}
			if _, err := tx.Exec(`
				INSERT INTO users (id, name, created_at)
				VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END`,
				u.ID, u.Name, now); err != nil {
				return fmt.Errorf("upsert user %q: %w", u.ID, err)
			}
		}
		return nil
	})
}

// GetUser returns a user by id, or ErrNotFound.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user ordered by name.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`SELECT id, name FROM users ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
