// Package projection builds the read models served to clients: item
// detail, bid history, user listings, search and profiles. It never writes.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"
)

// DefaultLimit applies when a listing asks for no limit
const DefaultLimit = 10

// Store is the persistence the projector reads from
type Store interface {
	storage.ItemStore
	storage.SearchStore
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// Projector answers read queries over items, the ledger and users
type Projector struct {
	store  Store
	ledger *ledger.Ledger
}

// New creates a projector
func New(store Store, l *ledger.Ledger) *Projector {
	return &Projector{store: store, ledger: l}
}

// Page bounds a listing. A Limit of zero or less means DefaultLimit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (p *Projector) item(ctx context.Context, itemID int64) (models.Item, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Item{}, apperr.NotFound("Item not found")
	}
	if err != nil {
		return models.Item{}, apperr.Storage(err)
	}
	return item, nil
}

// userRefs resolves and caches user names for one projection
type userRefs struct {
	store Store
	cache map[int64]models.UserRef
}

func (r *userRefs) get(ctx context.Context, userID int64) (models.UserRef, error) {
	if ref, ok := r.cache[userID]; ok {
		return ref, nil
	}
	u, err := r.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.UserRef{}, apperr.Storage(err)
	}
	ref := models.UserRef{UserID: userID, FirstName: u.FirstName, LastName: u.LastName}
	if r.cache == nil {
		r.cache = make(map[int64]models.UserRef)
	}
	r.cache[userID] = ref
	return ref, nil
}

// ItemDetail returns an item with its current price, holder and status at now
func (p *Projector) ItemDetail(ctx context.Context, itemID int64, now time.Time) (models.ItemDetail, error) {
	item, err := p.item(ctx, itemID)
	if err != nil {
		return models.ItemDetail{}, err
	}
	bids, err := p.ledger.ReadAll(ctx, itemID)
	if err != nil {
		return models.ItemDetail{}, err
	}

	refs := &userRefs{store: p.store}
	seller, err := refs.get(ctx, item.OwnerID)
	if err != nil {
		return models.ItemDetail{}, err
	}
	detail := models.ItemDetail{
		Item:         item,
		Seller:       seller,
		CurrentPrice: auction.CurrentPrice(item, bids),
		Status:       auction.StatusAt(item, now),
		BidCount:     len(bids),
	}
	if holderID, ok := auction.CurrentHolder(bids); ok {
		holder, err := refs.get(ctx, holderID)
		if err != nil {
			return models.ItemDetail{}, err
		}
		detail.CurrentHolder = &holder
	}
	return detail, nil
}

// BidHistory returns every bid on the item, highest first, with bidder names
func (p *Projector) BidHistory(ctx context.Context, itemID int64) ([]models.HistoryEntry, error) {
	if _, err := p.item(ctx, itemID); err != nil {
		return nil, err
	}
	bids, err := p.ledger.ReadAll(ctx, itemID)
	if err != nil {
		return nil, err
	}

	refs := &userRefs{store: p.store}
	history := make([]models.HistoryEntry, 0, len(bids))
	for _, b := range bids {
		ref, err := refs.get(ctx, b.BidderID)
		if err != nil {
			return nil, err
		}
		history = append(history, models.HistoryEntry{Bid: b, FirstName: ref.FirstName, LastName: ref.LastName})
	}
	return history, nil
}

// ListByStatus lists items relative to userID:
//   - OPEN: items the user sells that are still open
//   - BID: open items the user has bid on
//   - ARCHIVE: items the user sold whose auction has closed
func (p *Projector) ListByStatus(ctx context.Context, userID int64, filter models.ListFilter, query string, page Page, now time.Time) ([]models.ItemSummary, error) {
	if !filter.Valid() {
		return nil, apperr.InvalidInput("Invalid status value")
	}
	page = page.normalize()
	q := storage.ListQuery{Text: query, Limit: page.Limit, Offset: page.Offset}
	switch filter {
	case models.FilterOpen:
		q.OwnerID = userID
		q.ClosesAfter = now
	case models.FilterBid:
		q.BidderID = userID
		q.ClosesAfter = now
	case models.FilterArchive:
		q.OwnerID = userID
		q.ClosesBefore = now
	}
	return p.list(ctx, q)
}

// Search lists all items matching query and, when non-zero, categoryID
func (p *Projector) Search(ctx context.Context, query string, categoryID int64, page Page) ([]models.ItemSummary, error) {
	page = page.normalize()
	return p.list(ctx, storage.ListQuery{
		Text:       query,
		CategoryID: categoryID,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
}

// UserProfile returns the user with their open, bid-on and ended auctions
func (p *Projector) UserProfile(ctx context.Context, userID int64, now time.Time) (models.UserProfile, error) {
	u, err := p.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.UserProfile{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return models.UserProfile{}, apperr.Storage(err)
	}

	profile := models.UserProfile{
		UserRef: models.UserRef{UserID: u.ID, FirstName: u.FirstName, LastName: u.LastName},
	}
	if profile.Selling, err = p.list(ctx, storage.ListQuery{OwnerID: userID, ClosesAfter: now}); err != nil {
		return models.UserProfile{}, err
	}
	if profile.BiddingOn, err = p.list(ctx, storage.ListQuery{BidderID: userID, ClosesAfter: now}); err != nil {
		return models.UserProfile{}, err
	}
	if profile.AuctionsEnded, err = p.list(ctx, storage.ListQuery{OwnerID: userID, ClosesBefore: now}); err != nil {
		return models.UserProfile{}, err
	}
	return profile, nil
}

func (p *Projector) list(ctx context.Context, q storage.ListQuery) ([]models.ItemSummary, error) {
	items, err := p.store.ListItems(ctx, q)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if items == nil {
		items = []models.ItemSummary{}
	}
	return items, nil
}
