package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/notify"
	"github.com/xtrntr/auction/internal/projection"
	"github.com/xtrntr/auction/internal/questions"
	"github.com/xtrntr/auction/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Watchers are read-only; CORS does not apply to websockets
	},
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Auth      *auth.AuthService
	Registry  *registry.Registry
	Engine    *auction.Engine
	Projector *projection.Projector
	Questions *questions.Service
	Hub       *notify.Hub
	Now       func() time.Time
}

// NewHandler creates a new handler using the wall clock
func NewHandler(authService *auth.AuthService, reg *registry.Registry, engine *auction.Engine,
	projector *projection.Projector, qs *questions.Service, hub *notify.Hub) *Handler {
	return &Handler{
		Auth:      authService,
		Registry:  reg,
		Engine:    engine,
		Projector: projector,
		Questions: qs,
		Hub:       hub,
		Now:       time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError maps err to its status code and a {"error": ...} body.
// Storage failures are logged with their cause and answered generically.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindStorageFailure || kind == apperr.KindUnknown {
		log.Printf("Request failed: %v", err)
	}
	writeJSON(w, kind.HTTPStatus(), map[string]string{"error": apperr.Message(err)})
}

// decode reads a JSON body, rejecting unknown fields and trailing data
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidInput("Invalid request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.InvalidInput("Invalid request body")
	}
	return nil
}

// pathID parses the {id} URL parameter; anything but a positive integer
// is answered with notFound.
func pathID(r *http.Request, notFound string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound(notFound)
	}
	return id, nil
}

func mustIdentity(r *http.Request) auth.Identity {
	id, _ := identityFrom(r.Context())
	return id
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"user_id": user.ID})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, apperr.InvalidInput("email and password are required"))
		return
	}

	session, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Logout revokes the caller's tokens
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), mustIdentity(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetUser returns a user's public profile
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "User not found")
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.Projector.UserProfile(r.Context(), userID, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// CreateItem lists a new item owned by the caller. end_date is in Unix
// milliseconds.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		StartingBid *int64  `json:"starting_bid"`
		EndDate     *int64  `json:"end_date"`
		Categories  []int64 `json:"categories"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.StartingBid == nil {
		writeError(w, apperr.InvalidInput("starting_bid is required"))
		return
	}
	if req.EndDate == nil {
		writeError(w, apperr.InvalidInput("end_date is required"))
		return
	}

	item, err := h.Registry.CreateItem(r.Context(), mustIdentity(r).UserID, models.NewItem{
		Title:         req.Name,
		Description:   req.Description,
		StartingPrice: *req.StartingBid,
		ClosesAt:      time.UnixMilli(*req.EndDate).UTC(),
		CategoryIDs:   req.Categories,
	}, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"item_id": item.ID})
}

// GetItem returns an item with its current bid state
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	detail, err := h.Projector.ItemDetail(r.Context(), itemID, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// PlaceBid submits a bid on behalf of the caller
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Amount *int64 `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount == nil {
		writeError(w, apperr.InvalidInput("amount is required"))
		return
	}

	bid, err := h.Engine.PlaceBid(r.Context(), itemID, mustIdentity(r).UserID, *req.Amount, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// BidHistory returns every bid on an item, highest first
func (h *Handler) BidHistory(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.Projector.BidHistory(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// LiveBids upgrades to a websocket streaming the item's bid events
func (h *Handler) LiveBids(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Registry.GetItem(r.Context(), itemID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	h.Hub.Serve(conn, itemID)
}

// ListQuestions returns an item's questions, newest first
func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	qs, err := h.Questions.List(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

// AskQuestion posts the caller's question on an item
func (h *Handler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "Item not found")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		QuestionText string `json:"question_text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	q, err := h.Questions.Ask(r.Context(), itemID, mustIdentity(r).UserID, req.QuestionText, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"question_id": q.ID})
}

// AnswerQuestion records the item owner's answer
func (h *Handler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, err := pathID(r, "Question not found")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		AnswerText string `json:"answer_text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.Questions.Answer(r.Context(), questionID, mustIdentity(r).UserID, req.AnswerText); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Categories lists every category
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Registry.Categories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// Search lists items. With status it lists the caller's own OPEN, BID or
// ARCHIVE items and requires a session.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	page, err := parsePage(params.Get("limit"), params.Get("offset"))
	if err != nil {
		writeError(w, err)
		return
	}
	query := params.Get("q")

	if status := params.Get("status"); status != "" {
		id, ok := identityFrom(r.Context())
		if !ok {
			writeError(w, apperr.InvalidInput("Authentication required for status filters"))
			return
		}
		filter := models.ListFilter(status)
		if !filter.Valid() {
			writeError(w, apperr.InvalidInput("Invalid status value"))
			return
		}
		items, err := h.Projector.ListByStatus(r.Context(), id.UserID, filter, query, page, h.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	var categoryID int64
	if raw := params.Get("category"); raw != "" {
		categoryID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || categoryID <= 0 {
			writeError(w, apperr.InvalidInput("category must be a positive integer"))
			return
		}
	}
	items, err := h.Projector.Search(r.Context(), query, categoryID, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func parsePage(limit, offset string) (projection.Page, error) {
	var page projection.Page
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return page, apperr.InvalidInput("limit must be a non-negative integer")
		}
		page.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return page, apperr.InvalidInput("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}
