// Package ledger wraps the append-only bid store with the ordering and
// timestamp rules every reader relies on.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"
)

// Order sorts bids highest amount first; equal amounts keep the earliest
// placement first, then the lowest id.
func Order(bids []models.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		if !bids[i].PlacedAt.Equal(bids[j].PlacedAt) {
			return bids[i].PlacedAt.Before(bids[j].PlacedAt)
		}
		return bids[i].ID < bids[j].ID
	})
}

// Floor is the price a new bid must exceed.
type Floor struct {
	Amount int64
	Top    *models.Bid // Bid that set the floor, nil when it is the starting price
}

// Ledger is the read/append surface over a LedgerStore.
type Ledger struct {
	store storage.LedgerStore
}

// New creates a ledger over store
func New(store storage.LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// ReadAll returns the item's bids in canonical order.
func (l *Ledger) ReadAll(ctx context.Context, itemID int64) ([]models.Bid, error) {
	bids, err := l.store.ListBids(ctx, itemID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	Order(bids)
	return bids, nil
}

// ReadMax returns the highest bid, or ok=false when the item has none.
func (l *Ledger) ReadMax(ctx context.Context, itemID int64) (bid models.Bid, ok bool, err error) {
	bid, err = l.store.MaxBid(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Bid{}, false, nil
	}
	if err != nil {
		return models.Bid{}, false, apperr.Storage(err)
	}
	return bid, true, nil
}

// Floor computes readMax(item).amount, defaulting to the starting price.
func (l *Ledger) Floor(ctx context.Context, item models.Item) (Floor, error) {
	top, ok, err := l.ReadMax(ctx, item.ID)
	if err != nil {
		return Floor{}, err
	}
	if !ok {
		return Floor{Amount: item.StartingPrice}, nil
	}
	return Floor{Amount: top.Amount, Top: &top}, nil
}

// Append writes a bid above floor. The timestamp is clamped so it never
// precedes the bid that set the floor.
func (l *Ledger) Append(ctx context.Context, itemID, bidderID, amount int64, at time.Time, floor Floor) (models.Bid, error) {
	if floor.Top != nil && at.Before(floor.Top.PlacedAt) {
		at = floor.Top.PlacedAt
	}
	bid, err := l.store.AppendBid(ctx, models.Bid{
		ItemID:   itemID,
		BidderID: bidderID,
		Amount:   amount,
		PlacedAt: at.UTC(),
	}, floor.Amount)
	if errors.Is(err, storage.ErrBelowFloor) {
		return models.Bid{}, apperr.InvalidBid("Bid must be greater than current bid")
	}
	if err != nil {
		return models.Bid{}, apperr.Storage(err)
	}
	return bid, nil
}
