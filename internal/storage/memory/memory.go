// Package memory is an in-process Store used by tests and by the
// "memory" storage mode. Each item's ledger has its own mutex so appends
// for different items never contend.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"
	"github.com/xtrntr/auction/internal/textmatch"
)

type itemLedger struct {
	mu   sync.RWMutex
	bids []models.Bid
	max  int // index of the highest bid, -1 when empty
}

// Store keeps every table in maps guarded by mu; ledgers carry their own lock.
type Store struct {
	mu         sync.RWMutex
	items      map[int64]models.Item
	ledgers    map[int64]*itemLedger
	questions  map[int64]models.Question
	users      map[int64]models.User
	categories map[int64]models.Category
	nextID     map[string]int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		items:      make(map[int64]models.Item),
		ledgers:    make(map[int64]*itemLedger),
		questions:  make(map[int64]models.Question),
		users:      make(map[int64]models.User),
		categories: make(map[int64]models.Category),
		nextID:     make(map[string]int64),
	}
}

var _ storage.Store = (*Store)(nil)

// Close is a no-op
func (s *Store) Close() error { return nil }

// id must be called with mu held for writing
func (s *Store) id(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

// CreateItem inserts an item and its empty ledger
func (s *Store) CreateItem(ctx context.Context, item models.Item) (models.Item, error) {
	if err := ctx.Err(); err != nil {
		return models.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = s.id("items")
	item.CategoryIDs = append([]int64(nil), item.CategoryIDs...)
	s.items[item.ID] = item
	s.ledgers[item.ID] = &itemLedger{max: -1}
	return item, nil
}

// GetItem returns an item by id
func (s *Store) GetItem(ctx context.Context, itemID int64) (models.Item, error) {
	if err := ctx.Err(); err != nil {
		return models.Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return models.Item{}, storage.ErrNotFound
	}
	item.CategoryIDs = append([]int64(nil), item.CategoryIDs...)
	return item, nil
}

func (s *Store) ledger(itemID int64) (*itemLedger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[itemID]
	return l, ok
}

// AppendBid appends under the item's ledger lock, rejecting amounts that do
// not exceed both floor and the stored maximum.
func (s *Store) AppendBid(ctx context.Context, bid models.Bid, floor int64) (models.Bid, error) {
	if err := ctx.Err(); err != nil {
		return models.Bid{}, err
	}
	l, ok := s.ledger(bid.ItemID)
	if !ok {
		return models.Bid{}, storage.ErrNotFound
	}

	// The id is reserved before taking the ledger lock; gaps are harmless.
	s.mu.Lock()
	bid.ID = s.id("bids")
	s.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if bid.Amount <= floor || (l.max >= 0 && bid.Amount <= l.bids[l.max].Amount) {
		return models.Bid{}, storage.ErrBelowFloor
	}
	l.bids = append(l.bids, bid)
	l.max = len(l.bids) - 1
	return bid, nil
}

// ListBids returns a copy of the ledger in canonical order
func (s *Store) ListBids(ctx context.Context, itemID int64) ([]models.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, ok := s.ledger(itemID)
	if !ok {
		return []models.Bid{}, nil
	}
	l.mu.RLock()
	bids := append([]models.Bid(nil), l.bids...)
	l.mu.RUnlock()
	ledger.Order(bids)
	return bids, nil
}

// MaxBid returns the highest bid of an item
func (s *Store) MaxBid(ctx context.Context, itemID int64) (models.Bid, error) {
	if err := ctx.Err(); err != nil {
		return models.Bid{}, err
	}
	l, ok := s.ledger(itemID)
	if !ok {
		return models.Bid{}, storage.ErrNotFound
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.max < 0 {
		return models.Bid{}, storage.ErrNotFound
	}
	return l.bids[l.max], nil
}

func (l *itemLedger) hasBidder(userID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.bids {
		if b.BidderID == userID {
			return true
		}
	}
	return false
}

// ListItems filters, orders by id and paginates item summaries
func (s *Store) ListItems(ctx context.Context, q storage.ListQuery) ([]models.ItemSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []models.ItemSummary{}
	skipped := 0
	for _, id := range ids {
		item := s.items[id]
		if !matches(item, q) {
			continue
		}
		if q.BidderID != 0 && !s.ledgers[id].hasBidder(q.BidderID) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		owner := s.users[item.OwnerID]
		out = append(out, models.ItemSummary{
			ItemID:      item.ID,
			Title:       item.Title,
			Description: item.Description,
			ClosesAt:    item.ClosesAt,
			OwnerID:     item.OwnerID,
			FirstName:   owner.FirstName,
			LastName:    owner.LastName,
		})
	}
	return out, nil
}

func matches(item models.Item, q storage.ListQuery) bool {
	if q.OwnerID != 0 && item.OwnerID != q.OwnerID {
		return false
	}
	if !q.ClosesAfter.IsZero() && !item.ClosesAt.After(q.ClosesAfter) {
		return false
	}
	if !q.ClosesBefore.IsZero() && item.ClosesAt.After(q.ClosesBefore) {
		return false
	}
	if q.CategoryID != 0 && !containsID(item.CategoryIDs, q.CategoryID) {
		return false
	}
	return textmatch.Contains(q.Text, item.Title, item.Description)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CreateQuestion stores an unanswered question
func (s *Store) CreateQuestion(ctx context.Context, q models.Question) (models.Question, error) {
	if err := ctx.Err(); err != nil {
		return models.Question{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q.ID = s.id("questions")
	q.Answer = nil
	s.questions[q.ID] = q
	return q, nil
}

// GetQuestion returns a question by id
func (s *Store) GetQuestion(ctx context.Context, questionID int64) (models.Question, error) {
	if err := ctx.Err(); err != nil {
		return models.Question{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[questionID]
	if !ok {
		return models.Question{}, storage.ErrNotFound
	}
	return q, nil
}

// AnswerQuestion sets the answer if none is set yet
func (s *Store) AnswerQuestion(ctx context.Context, questionID int64, answer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return storage.ErrNotFound
	}
	if q.Answer != nil {
		return storage.ErrAlreadyAnswered
	}
	q.Answer = &answer
	s.questions[questionID] = q
	return nil
}

// ListQuestions returns an item's questions, newest first
func (s *Store) ListQuestions(ctx context.Context, itemID int64) ([]models.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Question{}
	for _, q := range s.questions {
		if q.ItemID == itemID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// CreateUser stores a user; emails are unique ignoring case
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return models.User{}, storage.ErrAlreadyExists
		}
	}
	u.ID = s.id("users")
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return u, nil
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, userID int64) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

// GetUserByEmail returns a user by email, ignoring case
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

// BumpTokenVersion invalidates every token issued to the user
func (s *Store) BumpTokenVersion(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.TokenVersion++
	s.users[userID] = u
	return nil
}

// CreateCategory stores a category; names are unique
func (s *Store) CreateCategory(ctx context.Context, name string) (models.Category, error) {
	if err := ctx.Err(); err != nil {
		return models.Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if c.Name == name {
			return models.Category{}, storage.ErrAlreadyExists
		}
	}
	c := models.Category{ID: s.id("categories"), Name: name}
	s.categories[c.ID] = c
	return c, nil
}

// ListCategories returns categories sorted by name
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MissingCategories returns the ids that have no category
func (s *Store) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []int64
	for _, id := range ids {
		if _, ok := s.categories[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
