// Package identity is the thin client for the external identity subsystem.
// The core only ever reads id, display name and rating.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID     string
	Name   string
	Rating float64
	Role   string // "passenger" | "driver"
}

// Directory looks users up by id.
type Directory interface {
	Lookup(ctx context.Context, id string) (*User, error)
}

// PostgresDirectory reads the users table owned by the identity subsystem.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresDirectory{db: db}, nil
}

func (d *PostgresDirectory) Lookup(ctx context.Context, id string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, rating, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Rating, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return &u, nil
}

// StaticDirectory serves a fixed user set; used in tests and local runs
// without an identity database.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewStaticDirectory(users ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *StaticDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *StaticDirectory) Lookup(ctx context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
