package auction

import (
	"time"

	"github.com/xtrntr/auction/internal/models"
)

// TopBid returns the winning bid of a ledger: highest amount, earliest
// placement on ties. bids need not be sorted.
func TopBid(bids []models.Bid) (models.Bid, bool) {
	if len(bids) == 0 {
		return models.Bid{}, false
	}
	top := bids[0]
	for _, b := range bids[1:] {
		switch {
		case b.Amount > top.Amount:
			top = b
		case b.Amount == top.Amount && b.PlacedAt.Before(top.PlacedAt):
			top = b
		case b.Amount == top.Amount && b.PlacedAt.Equal(top.PlacedAt) && b.ID < top.ID:
			top = b
		}
	}
	return top, true
}

// CurrentPrice is the top bid amount, or the starting price with no bids
func CurrentPrice(item models.Item, bids []models.Bid) int64 {
	if top, ok := TopBid(bids); ok {
		return top.Amount
	}
	return item.StartingPrice
}

// CurrentHolder returns the bidder of the top bid
func CurrentHolder(bids []models.Bid) (int64, bool) {
	top, ok := TopBid(bids)
	return top.BidderID, ok
}

// StatusAt is OPEN strictly before the closing time and ARCHIVED from it on
func StatusAt(item models.Item, now time.Time) models.Status {
	if now.Before(item.ClosesAt) {
		return models.StatusOpen
	}
	return models.StatusArchived
}
