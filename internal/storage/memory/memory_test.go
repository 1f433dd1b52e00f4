package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/auction/internal/storage"
	"github.com/xtrntr/auction/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestStore_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetItem(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ListCategories(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
