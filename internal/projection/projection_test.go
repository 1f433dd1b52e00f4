package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/registry"
	"github.com/xtrntr/auction/internal/storage/memory"
)

type market struct {
	projector *Projector
	now       time.Time
	seller    models.User
	alice     models.User
	bob       models.User
	lamp      models.Item // open, bids from alice and bob
	chair     models.Item // open, no bids
	vase      models.Item // closed
	category  models.Category
}

func newMarket(t *testing.T) *market {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	reg := registry.New(store, nil)
	l := ledger.New(store)
	engine := auction.NewEngine(reg, l, nil)
	m := &market{projector: New(store, l)}

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = created.Add(2 * time.Hour)

	var err error
	m.seller, err = store.CreateUser(ctx, models.User{FirstName: "Sam", LastName: "Seller", Email: "sam@example.com"})
	require.NoError(t, err)
	m.alice, err = store.CreateUser(ctx, models.User{FirstName: "Alice", LastName: "Archer", Email: "alice@example.com"})
	require.NoError(t, err)
	m.bob, err = store.CreateUser(ctx, models.User{FirstName: "Bob", LastName: "Baker", Email: "bob@example.com"})
	require.NoError(t, err)
	m.category, err = reg.AddCategory(ctx, "Furniture")
	require.NoError(t, err)

	m.lamp, err = reg.CreateItem(ctx, m.seller.ID, models.NewItem{
		Title: "Desk Lamp", Description: "Brass", StartingPrice: 10, ClosesAt: created.Add(48 * time.Hour),
	}, created)
	require.NoError(t, err)
	m.chair, err = reg.CreateItem(ctx, m.seller.ID, models.NewItem{
		Title: "Oak chair", Description: "Sturdy LAMP-side seating", StartingPrice: 25, ClosesAt: created.Add(24 * time.Hour),
		CategoryIDs: []int64{m.category.ID},
	}, created)
	require.NoError(t, err)
	m.vase, err = reg.CreateItem(ctx, m.seller.ID, models.NewItem{
		Title: "Vase", Description: "Blue glass", StartingPrice: 5, ClosesAt: created.Add(time.Hour),
	}, created)
	require.NoError(t, err)

	_, err = engine.PlaceBid(ctx, m.lamp.ID, m.alice.ID, 20, created.Add(time.Minute))
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, m.lamp.ID, m.bob.ID, 35, created.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, m.vase.ID, m.alice.ID, 6, created.Add(3*time.Minute))
	require.NoError(t, err)
	return m
}

func ids(items []models.ItemSummary) []int64 {
	out := []int64{}
	for _, it := range items {
		out = append(out, it.ItemID)
	}
	return out
}

func TestProjector_ItemDetail(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	detail, err := m.projector.ItemDetail(ctx, m.lamp.ID, m.now)
	require.NoError(t, err)
	assert.Equal(t, int64(35), detail.CurrentPrice)
	require.NotNil(t, detail.CurrentHolder)
	assert.Equal(t, m.bob.ID, detail.CurrentHolder.UserID)
	assert.Equal(t, "Baker", detail.CurrentHolder.LastName)
	assert.Equal(t, "Sam", detail.Seller.FirstName)
	assert.Equal(t, models.StatusOpen, detail.Status)
	assert.Equal(t, 2, detail.BidCount)

	detail, err = m.projector.ItemDetail(ctx, m.chair.ID, m.now)
	require.NoError(t, err)
	assert.Equal(t, int64(25), detail.CurrentPrice)
	assert.Nil(t, detail.CurrentHolder)

	detail, err = m.projector.ItemDetail(ctx, m.vase.ID, m.now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, detail.Status)

	_, err = m.projector.ItemDetail(ctx, 404, m.now)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProjector_BidHistory(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	history, err := m.projector.BidHistory(ctx, m.lamp.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(35), history[0].Amount)
	assert.Equal(t, "Bob", history[0].FirstName)
	assert.Equal(t, int64(20), history[1].Amount)
	assert.Equal(t, "Alice", history[1].FirstName)

	history, err = m.projector.BidHistory(ctx, m.chair.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = m.projector.BidHistory(ctx, 404)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProjector_ListByStatus(t *testing.T) {
	m := newMarket(t)

	tests := []struct {
		name   string
		userID int64
		filter models.ListFilter
		query  string
		page   Page
		want   func(m *market) []int64
	}{
		{
			name: "SellerOpen", userID: m.seller.ID, filter: models.FilterOpen,
			want: func(m *market) []int64 { return []int64{m.lamp.ID, m.chair.ID} },
		},
		{
			name: "SellerOpenQueryIsCaseInsensitive", userID: m.seller.ID, filter: models.FilterOpen, query: "lamp",
			want: func(m *market) []int64 { return []int64{m.lamp.ID, m.chair.ID} },
		},
		{
			name: "SellerOpenQueryMisses", userID: m.seller.ID, filter: models.FilterOpen, query: "piano",
			want: func(m *market) []int64 { return []int64{} },
		},
		{
			name: "SellerArchive", userID: m.seller.ID, filter: models.FilterArchive,
			want: func(m *market) []int64 { return []int64{m.vase.ID} },
		},
		{
			name: "AliceBidOnlyOpen", userID: m.alice.ID, filter: models.FilterBid,
			want: func(m *market) []int64 { return []int64{m.lamp.ID} },
		},
		{
			name: "BuyerSellsNothing", userID: m.bob.ID, filter: models.FilterOpen,
			want: func(m *market) []int64 { return []int64{} },
		},
		{
			name: "Paged", userID: m.seller.ID, filter: models.FilterOpen, page: Page{Limit: 1, Offset: 1},
			want: func(m *market) []int64 { return []int64{m.chair.ID} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := m.projector.ListByStatus(context.Background(), tt.userID, tt.filter, tt.query, tt.page, m.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want(m), ids(items))
		})
	}

	_, err := m.projector.ListByStatus(context.Background(), m.seller.ID, "SOLD", "", Page{}, m.now)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestProjector_ArchiveIncludesClosingInstant(t *testing.T) {
	m := newMarket(t)
	items, err := m.projector.ListByStatus(context.Background(), m.seller.ID, models.FilterArchive, "", Page{}, m.vase.ClosesAt)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.vase.ID}, ids(items))
}

func TestProjector_Search(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	items, err := m.projector.Search(ctx, "", 0, Page{})
	require.NoError(t, err)
	assert.Equal(t, []int64{m.lamp.ID, m.chair.ID, m.vase.ID}, ids(items))
	assert.Equal(t, "Seller", items[0].LastName)

	items, err = m.projector.Search(ctx, "", m.category.ID, Page{})
	require.NoError(t, err)
	assert.Equal(t, []int64{m.chair.ID}, ids(items))

	items, err = m.projector.Search(ctx, "GLASS", 0, Page{})
	require.NoError(t, err)
	assert.Equal(t, []int64{m.vase.ID}, ids(items))
}

func TestProjector_UserProfile(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	profile, err := m.projector.UserProfile(ctx, m.seller.ID, m.now)
	require.NoError(t, err)
	assert.Equal(t, "Sam", profile.FirstName)
	assert.Equal(t, []int64{m.lamp.ID, m.chair.ID}, ids(profile.Selling))
	assert.Empty(t, profile.BiddingOn)
	assert.Equal(t, []int64{m.vase.ID}, ids(profile.AuctionsEnded))

	profile, err = m.projector.UserProfile(ctx, m.alice.ID, m.now)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.lamp.ID}, ids(profile.BiddingOn))
	assert.NotNil(t, profile.Selling)

	_, err = m.projector.UserProfile(ctx, 404, m.now)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
