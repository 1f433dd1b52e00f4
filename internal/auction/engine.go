// Package auction admits bids. Admission for one item runs inside that
// item's critical section: read floor, validate, append, publish. Different
// items proceed in parallel.
package auction

import (
	"context"
	"time"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ItemResolver resolves items; *registry.Registry satisfies it
type ItemResolver interface {
	GetItem(ctx context.Context, itemID int64) (models.Item, error)
}

// Engine is the sole writer of bid data
type Engine struct {
	items     ItemResolver
	ledger    *ledger.Ledger
	publisher notify.Publisher
	locks     *lockSet
	tracer    trace.Tracer
}

// NewEngine creates an engine. A nil publisher discards events.
func NewEngine(items ItemResolver, l *ledger.Ledger, publisher notify.Publisher) *Engine {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &Engine{
		items:     items,
		ledger:    l,
		publisher: publisher,
		locks:     newLockSet(),
		tracer:    otel.Tracer("github.com/xtrntr/auction/internal/auction"),
	}
}

// PlaceBid admits a bid of amount by bidderID on itemID at now.
//
// Errors, in check order: NotFound, Forbidden (own item), Closed
// (now >= closing time), InvalidBid (amount <= floor), StorageFailure.
// Nothing is retried.
func (e *Engine) PlaceBid(ctx context.Context, itemID, bidderID, amount int64, now time.Time) (bid models.Bid, err error) {
	ctx, span := e.tracer.Start(ctx, "auction.PlaceBid", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
		attribute.Int64("bid.amount", amount),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		}
		span.End()
	}()

	item, err := e.items.GetItem(ctx, itemID)
	if err != nil {
		return models.Bid{}, err
	}
	if bidderID == item.OwnerID {
		return models.Bid{}, apperr.Forbidden("Cannot bid on your own item")
	}
	if !now.Before(item.ClosesAt) {
		return models.Bid{}, apperr.Closed("Auction has closed")
	}

	unlock := e.locks.Lock(itemID)
	floor, err := e.ledger.Floor(ctx, item)
	if err != nil {
		unlock()
		return models.Bid{}, err
	}
	if amount <= floor.Amount {
		unlock()
		return models.Bid{}, apperr.InvalidBid("Bid must be greater than current bid")
	}
	bid, err = e.ledger.Append(ctx, itemID, bidderID, amount, now, floor)
	if err != nil {
		unlock()
		return models.Bid{}, err
	}

	// Publish before unlocking so events of one item leave in admission
	// order. Publishers must not block.
	span.SetAttributes(attribute.Int64("bid.id", bid.ID))
	if perr := e.publisher.Publish(ctx, notify.NewBidEvent(bid, floor.Amount)); perr != nil {
		span.RecordError(perr)
	}
	unlock()
	return bid, nil
}
