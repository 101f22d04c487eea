package database

import (
	"context"
	"database/sql"
	"time"
)

type Database interface {
	GetDB() *sql.DB

	Exec(query string, args ...any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Close() error
	ExecWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error)

	GetUser(userID int64) (*User, error)
	SaveUser(user User) error

	// Turn archive
	SaveTurn(ctx context.Context, chatID int64, question, answer string) error
	RecentTurns(chatID int64, limit int) ([]Turn, error)
	PurgeOldTurns(retentionDays int) error
}

type User struct {
	ID        int64     `json:"id"`
	PublicID  string    `json:"public_id"`
	FirstName string    `json:"first_name"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u User) Equal(user User) bool {
	return u.FirstName == user.FirstName && u.Username == user.Username && user.PublicID != ""
}

// Turn is one archived question/answer pair.
type Turn struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}
