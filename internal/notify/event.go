// Package notify fans admitted bids out to live watchers and downstream
// consumers. Publishing is best effort: a failed publish never undoes or
// retries a bid.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/auction/internal/models"
)

// BidEvent is emitted once per admitted bid
type BidEvent struct {
	EventID       string    `json:"event_id"`
	ItemID        int64     `json:"item_id"`
	BidID         int64     `json:"bid_id"`
	BidderID      int64     `json:"user_id"`
	Amount        int64     `json:"amount"`
	PreviousPrice int64     `json:"previous_bid"`
	PlacedAt      time.Time `json:"timestamp"`
}

// NewBidEvent builds the event for bid, which replaced previousPrice as the floor
func NewBidEvent(bid models.Bid, previousPrice int64) BidEvent {
	return BidEvent{
		EventID:       uuid.NewString(),
		ItemID:        bid.ItemID,
		BidID:         bid.ID,
		BidderID:      bid.BidderID,
		Amount:        bid.Amount,
		PreviousPrice: previousPrice,
		PlacedAt:      bid.PlacedAt,
	}
}

// Publisher delivers bid events somewhere
type Publisher interface {
	Publish(ctx context.Context, ev BidEvent) error
}

// Multi publishes to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev BidEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(context.Context, BidEvent) error { return nil }

// Channel is the Redis Pub/Sub channel of an item
func Channel(itemID int64) string {
	return fmt.Sprintf("bid_events:%d", itemID)
}

// Subject is the NATS subject of an item
func Subject(itemID int64) string {
	return fmt.Sprintf("bid.events.%d", itemID)
}
