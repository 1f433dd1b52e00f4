// Package storage declares the persistence contracts of the auction core.
// Implementations live in storage/memory, storage/sqlite and db (Postgres).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/auction/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBelowFloor is returned by AppendBid when the amount no longer exceeds
	// the item's current maximum at commit time.
	ErrBelowFloor = errors.New("bid does not exceed current maximum")
	// ErrAlreadyExists is returned on unique constraint violations.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrAlreadyAnswered is returned when a question already carries an answer.
	ErrAlreadyAnswered = errors.New("question already answered")
)

// ItemStore persists auction items.
type ItemStore interface {
	CreateItem(ctx context.Context, item models.Item) (models.Item, error)
	GetItem(ctx context.Context, itemID int64) (models.Item, error)
}

// LedgerStore is the append-only bid ledger.
type LedgerStore interface {
	// AppendBid inserts bid atomically. It fails with ErrBelowFloor unless
	// bid.Amount is strictly greater than every bid already stored for the
	// item and than floor.
	AppendBid(ctx context.Context, bid models.Bid, floor int64) (models.Bid, error)
	// ListBids returns every bid of an item, amount descending then
	// placement ascending.
	ListBids(ctx context.Context, itemID int64) ([]models.Bid, error)
	// MaxBid returns the highest bid of an item or ErrNotFound.
	MaxBid(ctx context.Context, itemID int64) (models.Bid, error)
}

// ListQuery selects item summaries.
type ListQuery struct {
	OwnerID      int64     // Zero means any owner
	BidderID     int64     // Non-zero keeps items the user has bid on
	CategoryID   int64     // Zero means any category
	Text         string    // Case-insensitive substring of title or description
	ClosesAfter  time.Time // Exclusive lower bound, zero means unbounded
	ClosesBefore time.Time // Inclusive upper bound, zero means unbounded
	Limit        int
	Offset       int
}

// SearchStore answers listing queries.
type SearchStore interface {
	ListItems(ctx context.Context, q ListQuery) ([]models.ItemSummary, error)
}

// QuestionStore persists question threads.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, q models.Question) (models.Question, error)
	GetQuestion(ctx context.Context, questionID int64) (models.Question, error)
	// AnswerQuestion sets the answer once; a second call fails with ErrAlreadyAnswered.
	AnswerQuestion(ctx context.Context, questionID int64, answer string) error
	ListQuestions(ctx context.Context, itemID int64) ([]models.Question, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	BumpTokenVersion(ctx context.Context, userID int64) error
}

// CategoryStore persists categories and item associations.
type CategoryStore interface {
	CreateCategory(ctx context.Context, name string) (models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	// MissingCategories returns the ids in ids that do not exist.
	MissingCategories(ctx context.Context, ids []int64) ([]int64, error)
}

// Store bundles every contract a backend must satisfy.
type Store interface {
	ItemStore
	LedgerStore
	SearchStore
	QuestionStore
	UserStore
	CategoryStore
	Close() error
}
