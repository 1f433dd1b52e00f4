// Package questions runs the public Q&A thread of each item.
package questions

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/sanitize"
	"github.com/xtrntr/auction/internal/storage"
)

// ItemResolver resolves items; *registry.Registry satisfies it
type ItemResolver interface {
	GetItem(ctx context.Context, itemID int64) (models.Item, error)
}

// Service asks, answers and lists questions
type Service struct {
	items     ItemResolver
	store     storage.QuestionStore
	sanitizer sanitize.Sanitizer
}

// New creates a service. A nil sanitizer only trims whitespace.
func New(items ItemResolver, store storage.QuestionStore, sanitizer sanitize.Sanitizer) *Service {
	if sanitizer == nil {
		sanitizer = sanitize.Noop{}
	}
	return &Service{items: items, store: store, sanitizer: sanitizer}
}

// Ask records askerID's question on itemID. The owner cannot ask on their
// own item.
func (s *Service) Ask(ctx context.Context, itemID, askerID int64, text string, now time.Time) (models.Question, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return models.Question{}, err
	}
	if item.OwnerID == askerID {
		return models.Question{}, apperr.Forbidden("Cannot ask question on your own item")
	}
	text = s.sanitizer.Sanitize(text)
	if text == "" {
		return models.Question{}, apperr.InvalidInput("question_text is required")
	}

	q, err := s.store.CreateQuestion(ctx, models.Question{
		ItemID:  itemID,
		AskerID: askerID,
		Text:    text,
		AskedAt: now.UTC(),
	})
	if err != nil {
		return models.Question{}, apperr.Storage(err)
	}
	return q, nil
}

// Answer sets the answer of questionID. Only the item owner may answer and
// only once.
func (s *Service) Answer(ctx context.Context, questionID, userID int64, answer string) error {
	q, err := s.store.GetQuestion(ctx, questionID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("Question not found")
	}
	if err != nil {
		return apperr.Storage(err)
	}
	item, err := s.items.GetItem(ctx, q.ItemID)
	if err != nil {
		return err
	}
	if item.OwnerID != userID {
		return apperr.Forbidden("Only the auction creator can answer questions")
	}
	answer = s.sanitizer.Sanitize(answer)
	if answer == "" {
		return apperr.InvalidInput("answer_text is required")
	}

	err = s.store.AnswerQuestion(ctx, questionID, answer)
	switch {
	case errors.Is(err, storage.ErrAlreadyAnswered):
		return apperr.Conflict("Question has already been answered")
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("Question not found")
	case err != nil:
		return apperr.Storage(err)
	}
	return nil
}

// List returns the item's questions, newest first
func (s *Service) List(ctx context.Context, itemID int64) ([]models.Question, error) {
	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	qs, err := s.store.ListQuestions(ctx, itemID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if qs == nil {
		qs = []models.Question{}
	}
	return qs, nil
}
