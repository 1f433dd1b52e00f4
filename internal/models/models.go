package models

import "time"

// User represents a registered user
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	TokenVersion int // Bumped on logout to revoke issued tokens
	CreatedAt    time.Time
}

// Item represents an auction listing
type Item struct {
	ID            int64     `json:"item_id"`
	OwnerID       int64     `json:"creator_id"`
	Title         string    `json:"name"`
	Description   string    `json:"description"`
	StartingPrice int64     `json:"starting_bid"` // Whole currency units
	OpensAt       time.Time `json:"start_date"`
	ClosesAt      time.Time `json:"end_date"`
	CategoryIDs   []int64   `json:"categories,omitempty"`
}

// NewItem is the caller-supplied part of an item before it is registered
type NewItem struct {
	Title         string
	Description   string
	StartingPrice int64
	ClosesAt      time.Time
	CategoryIDs   []int64
}

// Bid represents an admitted bid. Bids are never edited or deleted.
type Bid struct {
	ID       int64     `json:"bid_id"`
	ItemID   int64     `json:"item_id"`
	BidderID int64     `json:"user_id"`
	Amount   int64     `json:"amount"`
	PlacedAt time.Time `json:"timestamp"` // Non-decreasing per item
}

// Question is asked on an item and answered at most once by its owner
type Question struct {
	ID      int64     `json:"question_id"`
	ItemID  int64     `json:"item_id"`
	AskerID int64     `json:"asked_by"`
	Text    string    `json:"question_text"`
	Answer  *string   `json:"answer_text"`
	AskedAt time.Time `json:"asked_at"`
}

// Category tags items for search
type Category struct {
	ID   int64  `json:"category_id"`
	Name string `json:"name"`
}

// Status is derived from an item's closing time
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusArchived Status = "ARCHIVED"
)

// ListFilter selects a user-relative listing
type ListFilter string

const (
	FilterOpen    ListFilter = "OPEN"    // Items the user sells, still open
	FilterBid     ListFilter = "BID"     // Open items the user has bid on
	FilterArchive ListFilter = "ARCHIVE" // Items the user sold, closed
)

// Valid reports whether f is a known listing filter
func (f ListFilter) Valid() bool {
	switch f {
	case FilterOpen, FilterBid, FilterArchive:
		return true
	}
	return false
}

// UserRef identifies a user with the name shown next to items and bids
type UserRef struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ItemDetail joins an item with its derived auction state
type ItemDetail struct {
	Item
	Seller        UserRef  `json:"seller"`
	CurrentPrice  int64    `json:"current_bid"`
	CurrentHolder *UserRef `json:"current_bid_holder"`
	Status        Status   `json:"status"`
	BidCount      int      `json:"bid_count"`
}

// HistoryEntry is one ledger row annotated with the bidder's name
type HistoryEntry struct {
	Bid
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ItemSummary is the row shape used by listings and search
type ItemSummary struct {
	ItemID      int64     `json:"item_id"`
	Title       string    `json:"name"`
	Description string    `json:"description"`
	ClosesAt    time.Time `json:"end_date"`
	OwnerID     int64     `json:"creator_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
}

// UserProfile is the public view of a user and their auctions
type UserProfile struct {
	UserRef
	Selling       []ItemSummary `json:"selling"`
	BiddingOn     []ItemSummary `json:"bidding_on"`
	AuctionsEnded []ItemSummary `json:"auctions_ended"`
}
