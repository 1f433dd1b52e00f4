package api

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	// Users
	r.Post("/users", h.Register)
	r.Post("/login", h.Login)
	r.With(h.RequireAuth).Post("/logout", h.Logout)
	r.Get("/users/{id}", h.GetUser)

	// Items and bids
	r.With(h.RequireAuth).Post("/item", h.CreateItem)
	r.Get("/item/{id}", h.GetItem)
	r.With(h.RequireAuth).Post("/item/{id}/bid", h.PlaceBid)
	r.Get("/item/{id}/bid", h.BidHistory)
	r.Get("/item/{id}/live", h.LiveBids)

	// Questions
	r.Get("/item/{id}/question", h.ListQuestions)
	r.With(h.RequireAuth).Post("/item/{id}/question", h.AskQuestion)
	r.With(h.RequireAuth).Post("/question/{id}", h.AnswerQuestion)

	r.Get("/categories", h.Categories)
	r.With(h.OptionalAuth).Get("/search", h.Search)
}

// NewRouter returns a chi router serving every endpoint
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}
