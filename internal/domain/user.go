package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserStore interface {
	CreateUser(u *User, token string) error
	GetUser(id string) (*User, error)
	GetUserByToken(token string) (*User, error)
}
