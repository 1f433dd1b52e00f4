// Package registry holds item metadata: creation with invariant checks,
// lookup, and the category tagger the items are validated against.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/sanitize"
	"github.com/xtrntr/auction/internal/storage"
)

// Store is the persistence the registry needs.
type Store interface {
	storage.ItemStore
	storage.CategoryStore
}

// Registry creates and resolves auction items
type Registry struct {
	store     Store
	sanitizer sanitize.Sanitizer
}

// New creates a registry. A nil sanitizer only trims whitespace.
func New(store Store, sanitizer sanitize.Sanitizer) *Registry {
	if sanitizer == nil {
		sanitizer = sanitize.Noop{}
	}
	return &Registry{store: store, sanitizer: sanitizer}
}

// CreateItem validates in and registers an item owned by ownerID that
// opens at now.
func (r *Registry) CreateItem(ctx context.Context, ownerID int64, in models.NewItem, now time.Time) (models.Item, error) {
	if ownerID <= 0 {
		return models.Item{}, apperr.InvalidInput("owner is required")
	}
	title := r.sanitizer.Sanitize(in.Title)
	description := r.sanitizer.Sanitize(in.Description)
	if title == "" {
		return models.Item{}, apperr.InvalidInput("name is required")
	}
	if description == "" {
		return models.Item{}, apperr.InvalidInput("description is required")
	}
	if in.StartingPrice < 0 {
		return models.Item{}, apperr.InvalidInput("starting_bid must be greater than or equal to 0")
	}
	opensAt := now.UTC()
	if !in.ClosesAt.After(opensAt) {
		return models.Item{}, apperr.InvalidInput("end_date must be in the future")
	}

	categoryIDs, err := r.checkCategories(ctx, in.CategoryIDs)
	if err != nil {
		return models.Item{}, err
	}

	item, err := r.store.CreateItem(ctx, models.Item{
		OwnerID:       ownerID,
		Title:         title,
		Description:   description,
		StartingPrice: in.StartingPrice,
		OpensAt:       opensAt,
		ClosesAt:      in.ClosesAt.UTC(),
		CategoryIDs:   categoryIDs,
	})
	if err != nil {
		return models.Item{}, apperr.Storage(err)
	}
	return item, nil
}

// checkCategories de-duplicates ids and rejects unknown ones.
func (r *Registry) checkCategories(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, apperr.InvalidInput("Invalid category ID(s)")
		}
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	missing, err := r.store.MissingCategories(ctx, unique)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if len(missing) > 0 {
		return nil, apperr.InvalidInput(fmt.Sprintf("Invalid category ID(s): %s", joinIDs(missing)))
	}
	return unique, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

// GetItem resolves an item or fails with NotFound
func (r *Registry) GetItem(ctx context.Context, itemID int64) (models.Item, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Item{}, apperr.NotFound("Item not found")
	}
	if err != nil {
		return models.Item{}, apperr.Storage(err)
	}
	return item, nil
}

// Categories lists every category sorted by name
func (r *Registry) Categories(ctx context.Context) ([]models.Category, error) {
	categories, err := r.store.ListCategories(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return categories, nil
}

// AddCategory registers a category name
func (r *Registry) AddCategory(ctx context.Context, name string) (models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Category{}, apperr.InvalidInput("category name is required")
	}
	c, err := r.store.CreateCategory(ctx, name)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return models.Category{}, apperr.Conflict("category already exists")
	}
	if err != nil {
		return models.Category{}, apperr.Storage(err)
	}
	return c, nil
}
