package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/notify"
	"github.com/xtrntr/auction/internal/projection"
	"github.com/xtrntr/auction/internal/questions"
	"github.com/xtrntr/auction/internal/registry"
	"github.com/xtrntr/auction/internal/sanitize"
	"github.com/xtrntr/auction/internal/storage/memory"
)

const testPassword = "Passw0rd!"

type testEnv struct {
	handler *Handler
	router  *chi.Mux
	hub     *notify.Hub
	reg     *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	hub := notify.NewHub()
	reg := registry.New(store, sanitize.NewWithWords([]string{"heck"}))
	l := ledger.New(store)
	h := NewHandler(
		auth.NewAuthService(store, "test-secret", time.Hour),
		reg,
		auction.NewEngine(reg, l, hub),
		projection.New(store, l),
		questions.New(reg, store, nil),
		hub,
	)
	return &testEnv{handler: h, router: NewRouter(h), hub: hub, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("X-Authorization", token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// signup registers and logs in a user, returning its id and token
func (e *testEnv) signup(t *testing.T, first, email string) (int64, string) {
	t.Helper()
	w := e.do(t, "POST", "/users", "", map[string]any{
		"first_name": first, "last_name": "Tester", "email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, "POST", "/login", "", map[string]any{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session struct {
		UserID int64  `json:"user_id"`
		Token  string `json:"session_token"`
	}
	decodeBody(t, w, &session)
	return session.UserID, session.Token
}

func (e *testEnv) listItem(t *testing.T, token string, startingBid int64, closesIn time.Duration, categories ...int64) int64 {
	t.Helper()
	body := map[string]any{
		"name":         "Record player",
		"description":  "Plays records",
		"starting_bid": startingBid,
		"end_date":     time.Now().Add(closesIn).UnixMilli(),
	}
	if len(categories) > 0 {
		body["categories"] = categories
	}
	w := e.do(t, "POST", "/item", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]int64
	decodeBody(t, w, &resp)
	return resp["item_id"]
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
		expectedBody   map[string]any
	}{
		{
			name: "Success",
			requestBody: map[string]any{
				"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com", "password": testPassword,
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   map[string]any{"user_id": float64(1)},
		},
		{
			name: "DuplicateEmail",
			requestBody: map[string]any{
				"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com", "password": testPassword,
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]any{"error": "Email already exists"},
		},
		{
			name: "WeakPassword",
			requestBody: map[string]any{
				"first_name": "Bo", "last_name": "Peep", "email": "bo@example.com", "password": "password1!",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]any{"error": "Password must contain at least one uppercase letter"},
		},
		{
			name: "UnknownField",
			requestBody: map[string]any{
				"first_name": "Bo", "last_name": "Peep", "email": "bo@example.com", "password": testPassword, "admin": true,
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]any{"error": "Invalid request body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/users", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var response map[string]any
			decodeBody(t, w, &response)
			assert.Equal(t, tt.expectedBody, response)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ada", "ada@example.com")

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
	}{
		{name: "Success", requestBody: map[string]any{"email": "ada@example.com", "password": testPassword}, expectedStatus: http.StatusOK},
		{name: "WrongPassword", requestBody: map[string]any{"email": "ada@example.com", "password": "nope"}, expectedStatus: http.StatusBadRequest},
		{name: "MissingPassword", requestBody: map[string]any{"email": "ada@example.com"}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var response map[string]any
			decodeBody(t, w, &response)
			if tt.expectedStatus == http.StatusOK {
				assert.NotEmpty(t, response["session_token"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_BidFlow(t *testing.T) {
	env := newTestEnv(t)
	sellerID, seller := env.signup(t, "Sam", "sam@example.com")
	aliceID, alice := env.signup(t, "Alice", "alice@example.com")
	_, bob := env.signup(t, "Bob", "bob@example.com")
	itemID := env.listItem(t, seller, 100, time.Hour)
	bidPath := fmt.Sprintf("/item/%d/bid", itemID)

	tests := []struct {
		name           string
		token          string
		path           string
		body           map[string]any
		expectedStatus int
	}{
		{name: "NoToken", path: bidPath, body: map[string]any{"amount": 150}, expectedStatus: http.StatusUnauthorized},
		{name: "BadToken", token: "garbage", path: bidPath, body: map[string]any{"amount": 150}, expectedStatus: http.StatusUnauthorized},
		{name: "OwnItem", token: seller, path: bidPath, body: map[string]any{"amount": 150}, expectedStatus: http.StatusForbidden},
		{name: "UnknownItem", token: alice, path: "/item/999/bid", body: map[string]any{"amount": 150}, expectedStatus: http.StatusNotFound},
		{name: "NonNumericItem", token: alice, path: "/item/abc/bid", body: map[string]any{"amount": 150}, expectedStatus: http.StatusNotFound},
		{name: "MissingAmount", token: alice, path: bidPath, body: map[string]any{}, expectedStatus: http.StatusBadRequest},
		{name: "FractionalAmount", token: alice, path: bidPath, body: map[string]any{"amount": 150.5}, expectedStatus: http.StatusBadRequest},
		{name: "AtStartingPrice", token: alice, path: bidPath, body: map[string]any{"amount": 100}, expectedStatus: http.StatusBadRequest},
		{name: "Accepted", token: alice, path: bidPath, body: map[string]any{"amount": 150}, expectedStatus: http.StatusCreated},
		{name: "EqualToCurrent", token: bob, path: bidPath, body: map[string]any{"amount": 150}, expectedStatus: http.StatusBadRequest},
		{name: "Outbid", token: bob, path: bidPath, body: map[string]any{"amount": 175}, expectedStatus: http.StatusCreated},
		{name: "Raise", token: alice, path: bidPath, body: map[string]any{"amount": 200}, expectedStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", tt.path, tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := env.do(t, "GET", fmt.Sprintf("/item/%d", itemID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		CreatorID     int64  `json:"creator_id"`
		CurrentBid    int64  `json:"current_bid"`
		Status        string `json:"status"`
		CurrentHolder *struct {
			UserID    int64  `json:"user_id"`
			FirstName string `json:"first_name"`
		} `json:"current_bid_holder"`
	}
	decodeBody(t, w, &detail)
	assert.Equal(t, sellerID, detail.CreatorID)
	assert.Equal(t, int64(200), detail.CurrentBid)
	assert.Equal(t, "OPEN", detail.Status)
	require.NotNil(t, detail.CurrentHolder)
	assert.Equal(t, aliceID, detail.CurrentHolder.UserID)
	assert.Equal(t, "Alice", detail.CurrentHolder.FirstName)

	w = env.do(t, "GET", bidPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []struct {
		Amount    int64  `json:"amount"`
		FirstName string `json:"first_name"`
	}
	decodeBody(t, w, &history)
	require.Len(t, history, 3)
	assert.Equal(t, int64(200), history[0].Amount)
	assert.Equal(t, "Bob", history[1].FirstName)
	assert.Equal(t, int64(150), history[2].Amount)

	// Closed once the clock passes the closing time
	env.handler.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	w = env.do(t, "POST", bidPath, bob, map[string]any{"amount": 500})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", fmt.Sprintf("/item/%d", itemID), "", nil)
	decodeBody(t, w, &detail)
	assert.Equal(t, "ARCHIVED", detail.Status)
}

func TestHandler_CreateItem(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.signup(t, "Sam", "sam@example.com")
	future := time.Now().Add(time.Hour).UnixMilli()

	tests := []struct {
		name           string
		body           map[string]any
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Success",
			body:           map[string]any{"name": "Lamp", "description": "Brass", "starting_bid": 0, "end_date": future},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "PastEndDate",
			body:           map[string]any{"name": "Lamp", "description": "Brass", "starting_bid": 0, "end_date": time.Now().Add(-time.Hour).UnixMilli()},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "end_date must be in the future",
		},
		{
			name:           "NegativeStartingBid",
			body:           map[string]any{"name": "Lamp", "description": "Brass", "starting_bid": -1, "end_date": future},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "MissingStartingBid",
			body:           map[string]any{"name": "Lamp", "description": "Brass", "end_date": future},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "starting_bid is required",
		},
		{
			name:           "UnknownCategory",
			body:           map[string]any{"name": "Lamp", "description": "Brass", "starting_bid": 0, "end_date": future, "categories": []int64{42}},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/item", seller, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedError != "" {
				var response map[string]string
				decodeBody(t, w, &response)
				assert.Equal(t, tt.expectedError, response["error"])
			}
		})
	}

	w := env.do(t, "POST", "/item", "", map[string]any{"name": "Lamp", "description": "Brass", "starting_bid": 0, "end_date": future})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Questions(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.signup(t, "Sam", "sam@example.com")
	_, alice := env.signup(t, "Alice", "alice@example.com")
	itemID := env.listItem(t, seller, 10, time.Hour)
	questionPath := fmt.Sprintf("/item/%d/question", itemID)

	w := env.do(t, "POST", questionPath, seller, map[string]any{"question_text": "Mine?"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "POST", questionPath, alice, map[string]any{"question_text": "Does it work?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var asked map[string]int64
	decodeBody(t, w, &asked)
	answerPath := fmt.Sprintf("/question/%d", asked["question_id"])

	w = env.do(t, "POST", answerPath, alice, map[string]any{"answer_text": "Yes"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, "POST", answerPath, seller, map[string]any{"answer_text": "Yes"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "POST", answerPath, seller, map[string]any{"answer_text": "No"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, "POST", "/question/999", seller, map[string]any{"answer_text": "No"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", questionPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct {
		Text   string  `json:"question_text"`
		Answer *string `json:"answer_text"`
	}
	decodeBody(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Does it work?", list[0].Text)
	require.NotNil(t, list[0].Answer)
	assert.Equal(t, "Yes", *list[0].Answer)
}

func TestHandler_Search(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.signup(t, "Sam", "sam@example.com")
	_, alice := env.signup(t, "Alice", "alice@example.com")
	category, err := env.reg.AddCategory(context.Background(), "Audio")
	require.NoError(t, err)
	tagged := env.listItem(t, seller, 10, time.Hour, category.ID)
	plain := env.listItem(t, seller, 10, time.Hour)
	w := env.do(t, "POST", fmt.Sprintf("/item/%d/bid", plain), alice, map[string]any{"amount": 11})
	require.Equal(t, http.StatusCreated, w.Code)

	ids := func(w *httptest.ResponseRecorder) []int64 {
		var items []struct {
			ItemID int64 `json:"item_id"`
		}
		decodeBody(t, w, &items)
		out := []int64{}
		for _, it := range items {
			out = append(out, it.ItemID)
		}
		return out
	}

	tests := []struct {
		name           string
		query          string
		token          string
		expectedStatus int
		expectedIDs    []int64
	}{
		{name: "All", query: "", expectedStatus: http.StatusOK, expectedIDs: []int64{tagged, plain}},
		{name: "Category", query: fmt.Sprintf("?category=%d", category.ID), expectedStatus: http.StatusOK, expectedIDs: []int64{tagged}},
		{name: "TextCaseInsensitive", query: "?q=RECORD", expectedStatus: http.StatusOK, expectedIDs: []int64{tagged, plain}},
		{name: "Paged", query: "?limit=1&offset=1", expectedStatus: http.StatusOK, expectedIDs: []int64{plain}},
		{name: "BadLimit", query: "?limit=ten", expectedStatus: http.StatusBadRequest},
		{name: "StatusWithoutAuth", query: "?status=OPEN", expectedStatus: http.StatusBadRequest},
		{name: "StatusInvalid", query: "?status=SOLD", token: seller, expectedStatus: http.StatusBadRequest},
		{name: "SellerOpen", query: "?status=OPEN", token: seller, expectedStatus: http.StatusOK, expectedIDs: []int64{tagged, plain}},
		{name: "BuyerBid", query: "?status=BID", token: alice, expectedStatus: http.StatusOK, expectedIDs: []int64{plain}},
		{name: "SellerArchive", query: "?status=ARCHIVE", token: seller, expectedStatus: http.StatusOK, expectedIDs: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/search"+tt.query, tt.token, nil)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedIDs != nil {
				assert.Equal(t, tt.expectedIDs, ids(w))
			}
		})
	}

	w = env.do(t, "GET", "/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Audio")
}

func TestHandler_LogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.signup(t, "Sam", "sam@example.com")

	req := httptest.NewRequest("POST", "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+seller)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/logout", seller, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_UserProfile(t *testing.T) {
	env := newTestEnv(t)
	sellerID, seller := env.signup(t, "Sam", "sam@example.com")
	itemID := env.listItem(t, seller, 10, time.Hour)

	w := env.do(t, "GET", fmt.Sprintf("/users/%d", sellerID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		FirstName string `json:"first_name"`
		Selling   []struct {
			ItemID int64 `json:"item_id"`
		} `json:"selling"`
		AuctionsEnded []any `json:"auctions_ended"`
	}
	decodeBody(t, w, &profile)
	assert.Equal(t, "Sam", profile.FirstName)
	require.Len(t, profile.Selling, 1)
	assert.Equal(t, itemID, profile.Selling[0].ItemID)
	assert.NotNil(t, profile.AuctionsEnded)

	w = env.do(t, "GET", "/users/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_LiveBids(t *testing.T) {
	env := newTestEnv(t)
	_, seller := env.signup(t, "Sam", "sam@example.com")
	_, alice := env.signup(t, "Alice", "alice@example.com")
	itemID := env.listItem(t, seller, 10, time.Hour)

	server := httptest.NewServer(env.router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + fmt.Sprintf("/item/%d/live", itemID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers(itemID) == 1 }, 2*time.Second, 10*time.Millisecond)

	w := env.do(t, "POST", fmt.Sprintf("/item/%d/bid", itemID), alice, map[string]any{"amount": 25})
	require.Equal(t, http.StatusCreated, w.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev notify.BidEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, itemID, ev.ItemID)
	assert.Equal(t, int64(25), ev.Amount)
	assert.Equal(t, int64(10), ev.PreviousPrice)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/item/999/live", nil)
	assert.Error(t, err)
}
