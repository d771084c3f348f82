package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicatePhone is returned when creating a user with a phone
// number that is already registered.
var ErrDuplicatePhone = errors.New("phone number already registered")

// User is a tracked field agent.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser inserts a new user and sets its ID. Phone numbers are
// unique; a duplicate yields ErrDuplicatePhone.
func (db *DB) CreateUser(u *User) error {
	result, err := db.Exec(
		`INSERT INTO users (name, phone, is_active) VALUES (?, ?, ?)`,
		u.Name, u.Phone, u.IsActive)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	u.ID = id

	row := db.QueryRow(`SELECT created_at FROM users WHERE id = ?`, id)
	var created float64
	if err := row.Scan(&created); err == nil {
		u.CreatedAt = timeFromUnix(created)
	}
	return nil
}

// UserByID returns the user with the given ID or ErrUserNotFound.
func (db *DB) UserByID(id int64) (*User, error) {
	row := db.QueryRow(
		`SELECT id, name, phone, is_active, created_at FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// UserExists reports whether a user with the given ID exists.
func (db *DB) UserExists(id int64) (bool, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

// ListUsers returns all users ordered by ID.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`SELECT id, name, phone, is_active, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ActiveUserIDs returns the IDs of all active users.
func (db *DB) ActiveUserIDs() ([]int64, error) {
	rows, err := db.Query(`SELECT id FROM users WHERE is_active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanUser(s scanner) (*User, error) {
	var u User
	var created float64
	if err := s.Scan(&u.ID, &u.Name, &u.Phone, &u.IsActive, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = timeFromUnix(created)
	return &u, nil
}
