// Package storagetest is a conformance suite every storage.Store backend
// runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) storage.Store

// base is millisecond aligned so every backend round-trips it exactly
var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// Run runs the whole suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Categories", func(t *testing.T) { testCategories(t, newStore(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("Bids", func(t *testing.T) { testBids(t, newStore(t)) })
	t.Run("ConcurrentBids", func(t *testing.T) { testConcurrentBids(t, newStore(t)) })
	t.Run("ListItems", func(t *testing.T) { testListItems(t, newStore(t)) })
	t.Run("UnicodeSearch", func(t *testing.T) { testUnicodeSearch(t, newStore(t)) })
	t.Run("Questions", func(t *testing.T) { testQuestions(t, newStore(t)) })
}

func mustUser(t *testing.T, s storage.Store, first, email string) models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), models.User{
		FirstName: first, LastName: "Test", Email: email, PasswordHash: "hash", CreatedAt: base,
	})
	require.NoError(t, err)
	return u
}

func mustItem(t *testing.T, s storage.Store, owner int64, title string, closesIn time.Duration, categories ...int64) models.Item {
	t.Helper()
	item, err := s.CreateItem(context.Background(), models.Item{
		OwnerID:       owner,
		Title:         title,
		Description:   title + " description",
		StartingPrice: 10,
		OpensAt:       base,
		ClosesAt:      base.Add(closesIn),
		CategoryIDs:   categories,
	})
	require.NoError(t, err)
	return item
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "Alice", "alice@example.com")
	assert.NotZero(t, alice.ID)

	_, err := s.CreateUser(ctx, models.User{FirstName: "A", LastName: "B", Email: "ALICE@example.com", PasswordHash: "x"})
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "duplicate email ignoring case: %v", err)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FirstName)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, 0, got.TokenVersion)

	got, err = s.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.BumpTokenVersion(ctx, alice.ID))
	require.NoError(t, s.BumpTokenVersion(ctx, alice.ID))
	got, err = s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TokenVersion)
	assert.ErrorIs(t, s.BumpTokenVersion(ctx, 9999), storage.ErrNotFound)
}

func testCategories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	music, err := s.CreateCategory(ctx, "Music")
	require.NoError(t, err)
	books, err := s.CreateCategory(ctx, "Books")
	require.NoError(t, err)

	_, err = s.CreateCategory(ctx, "Music")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	list, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Category{books, music}, list)

	missing, err := s.MissingCategories(ctx, []int64{music.ID, 9999, books.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{9999}, missing)

	missing, err = s.MissingCategories(ctx, []int64{music.ID})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func testItems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner := mustUser(t, s, "Olive", "olive@example.com")
	cat, err := s.CreateCategory(ctx, "Lamps")
	require.NoError(t, err)

	item := mustItem(t, s, owner.ID, "Lamp", time.Hour, cat.ID)
	assert.NotZero(t, item.ID)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.OwnerID)
	assert.Equal(t, "Lamp", got.Title)
	assert.Equal(t, int64(10), got.StartingPrice)
	assert.True(t, got.OpensAt.Equal(base))
	assert.True(t, got.ClosesAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, []int64{cat.ID}, got.CategoryIDs)

	_, err = s.GetItem(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner := mustUser(t, s, "Olive", "olive@example.com")
	bidder := mustUser(t, s, "Bea", "bea@example.com")
	item := mustItem(t, s, owner.ID, "Lamp", time.Hour)

	_, err := s.MaxBid(ctx, item.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	bids, err := s.ListBids(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)

	append := func(amount, floor int64, at time.Time) (models.Bid, error) {
		return s.AppendBid(ctx, models.Bid{ItemID: item.ID, BidderID: bidder.ID, Amount: amount, PlacedAt: at}, floor)
	}

	_, err = append(10, 10, base)
	assert.ErrorIs(t, err, storage.ErrBelowFloor, "equal to floor")

	first, err := append(20, 10, base.Add(time.Second))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	// A stale floor does not let a lower amount through
	_, err = append(15, 10, base.Add(2*time.Second))
	assert.ErrorIs(t, err, storage.ErrBelowFloor)
	_, err = append(20, 10, base.Add(2*time.Second))
	assert.ErrorIs(t, err, storage.ErrBelowFloor)

	second, err := append(30, 20, base.Add(3*time.Second))
	require.NoError(t, err)

	top, err := s.MaxBid(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, top.ID)
	assert.Equal(t, int64(30), top.Amount)

	bids, err = s.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, int64(30), bids[0].Amount)
	assert.Equal(t, int64(20), bids[1].Amount)
	assert.True(t, bids[1].PlacedAt.Equal(base.Add(time.Second)))

	_, err = s.AppendBid(ctx, models.Bid{ItemID: 9999, BidderID: bidder.ID, Amount: 50, PlacedAt: base}, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner := mustUser(t, s, "Olive", "olive@example.com")
	item := mustItem(t, s, owner.ID, "Lamp", time.Hour)
	const n = 8
	bidders := make([]int64, n)
	for i := range bidders {
		bidders[i] = mustUser(t, s, "Bidder", fmt.Sprintf("b%d@example.com", i)).ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for _, b := range bidders {
		wg.Add(1)
		go func(bidder int64) {
			defer wg.Done()
			// Every caller read the same floor; only one may commit
			_, err := s.AppendBid(ctx, models.Bid{ItemID: item.ID, BidderID: bidder, Amount: 50, PlacedAt: base}, 10)
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, storage.ErrBelowFloor)
		}(b)
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)

	bids, err := s.ListBids(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func testListItems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seller := mustUser(t, s, "Sam", "sam@example.com")
	other := mustUser(t, s, "Oli", "oli@example.com")
	bidder := mustUser(t, s, "Bea", "bea@example.com")
	cat, err := s.CreateCategory(ctx, "Audio")
	require.NoError(t, err)

	radio := mustItem(t, s, seller.ID, "Radio", 2*time.Hour, cat.ID)
	piano := mustItem(t, s, seller.ID, "Piano 100%", time.Hour)
	clock := mustItem(t, s, other.ID, "Clock", 30*time.Minute)
	_, err = s.AppendBid(ctx, models.Bid{ItemID: clock.ID, BidderID: bidder.ID, Amount: 11, PlacedAt: base}, 10)
	require.NoError(t, err)

	ids := func(q storage.ListQuery) []int64 {
		t.Helper()
		items, err := s.ListItems(ctx, q)
		require.NoError(t, err)
		out := []int64{}
		for _, it := range items {
			out = append(out, it.ItemID)
		}
		return out
	}

	assert.Equal(t, []int64{radio.ID, piano.ID, clock.ID}, ids(storage.ListQuery{}))
	assert.Equal(t, []int64{radio.ID, piano.ID}, ids(storage.ListQuery{OwnerID: seller.ID}))
	assert.Equal(t, []int64{clock.ID}, ids(storage.ListQuery{BidderID: bidder.ID}))
	assert.Equal(t, []int64{radio.ID}, ids(storage.ListQuery{CategoryID: cat.ID}))
	assert.Equal(t, []int64{radio.ID}, ids(storage.ListQuery{Text: "RADIO"}))
	assert.Equal(t, []int64{radio.ID, piano.ID, clock.ID}, ids(storage.ListQuery{Text: "description"}))
	assert.Equal(t, []int64{piano.ID}, ids(storage.ListQuery{Text: "100%"}))
	assert.Equal(t, []int64{}, ids(storage.ListQuery{Text: "0_"}))
	assert.Equal(t, []int64{piano.ID}, ids(storage.ListQuery{Limit: 1, Offset: 1}))

	// ClosesAfter is exclusive, ClosesBefore inclusive
	cut := base.Add(time.Hour)
	assert.Equal(t, []int64{radio.ID}, ids(storage.ListQuery{ClosesAfter: cut}))
	assert.Equal(t, []int64{piano.ID, clock.ID}, ids(storage.ListQuery{ClosesBefore: cut}))

	items, err := s.ListItems(ctx, storage.ListQuery{OwnerID: other.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Oli", items[0].FirstName)
	assert.Equal(t, other.ID, items[0].OwnerID)
	assert.True(t, items[0].ClosesAt.Equal(clock.ClosesAt))
}

func testUnicodeSearch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seller := mustUser(t, s, "Sam", "sam@example.com")
	chair := mustItem(t, s, seller.ID, "École chair", time.Hour)
	mustItem(t, s, seller.ID, "Stool", time.Hour)

	for _, text := range []string{"écoLE", "ÉCOLE", "école chair"} {
		items, err := s.ListItems(ctx, storage.ListQuery{Text: text})
		require.NoError(t, err)
		require.Len(t, items, 1, text)
		assert.Equal(t, chair.ID, items[0].ItemID)
	}

	items, err := s.ListItems(ctx, storage.ListQuery{Text: "ecole"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func testQuestions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner := mustUser(t, s, "Olive", "olive@example.com")
	asker := mustUser(t, s, "Ada", "ada@example.com")
	item := mustItem(t, s, owner.ID, "Lamp", time.Hour)

	first, err := s.CreateQuestion(ctx, models.Question{ItemID: item.ID, AskerID: asker.ID, Text: "First?", AskedAt: base})
	require.NoError(t, err)
	second, err := s.CreateQuestion(ctx, models.Question{ItemID: item.ID, AskerID: asker.ID, Text: "Second?", AskedAt: base.Add(time.Second)})
	require.NoError(t, err)

	got, err := s.GetQuestion(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "First?", got.Text)
	assert.Nil(t, got.Answer)
	_, err = s.GetQuestion(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.AnswerQuestion(ctx, first.ID, "Yes"))
	assert.ErrorIs(t, s.AnswerQuestion(ctx, first.ID, "No"), storage.ErrAlreadyAnswered)
	assert.ErrorIs(t, s.AnswerQuestion(ctx, 9999, "No"), storage.ErrNotFound)

	list, err := s.ListQuestions(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	require.NotNil(t, list[1].Answer)
	assert.Equal(t, "Yes", *list[1].Answer)

	list, err = s.ListQuestions(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, list)
}
