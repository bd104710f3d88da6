package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notehub/internal/domain"
)

// UserStore implements domain.UserStore on the relational store.
type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(u *domain.User, token string) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.Conn().Exec(s.db.rebind(
		`INSERT INTO users (id, name, email, avatar, token, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Email, u.Avatar, token, u.CreatedAt,
	)
	return err
}

func (s *UserStore) scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	return u, row.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &u.CreatedAt)
}

func (s *UserStore) GetUser(id string) (*domain.User, error) {
	row := s.db.Conn().QueryRow(s.db.rebind(
		`SELECT id, name, email, avatar, created_at FROM users WHERE id = ?`), id,
	)
	u, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *UserStore) GetUserByToken(token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("get user by token: %w", ErrNotFound)
	}
	row := s.db.Conn().QueryRow(s.db.rebind(
		`SELECT id, name, email, avatar, created_at FROM users WHERE token = ?`), token,
	)
	u, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user by token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	return u, nil
}
