package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

var _ storage.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate applies the schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	user := models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (first_name, last_name, email, password_hash) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, first_name, last_name, email, password_hash, token_version, created_at",
		u.FirstName, u.LastName, u.Email, u.PasswordHash).Scan(
		&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.TokenVersion, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (models.User, error) {
	user := models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, first_name, last_name, email, password_hash, token_version, created_at FROM users WHERE "+where,
		arg).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.TokenVersion, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID int64) (models.User, error) {
	return db.getUser(ctx, "id = $1", userID)
}

// GetUserByEmail retrieves a user by email, ignoring case
func (db *DB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return db.getUser(ctx, "LOWER(email) = LOWER($1)", email)
}

// BumpTokenVersion revokes every token issued to the user
func (db *DB) BumpTokenVersion(ctx context.Context, userID int64) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE users SET token_version = token_version + 1 WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to bump token version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateItem inserts an item and its category associations in one transaction
func (db *DB) CreateItem(ctx context.Context, item models.Item) (models.Item, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		"INSERT INTO items (owner_id, title, description, starting_price, opens_at, closes_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		item.OwnerID, item.Title, item.Description, item.StartingPrice, item.OpensAt, item.ClosesAt).Scan(&item.ID)
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to create item: %w", err)
	}

	for _, categoryID := range item.CategoryIDs {
		if _, err := tx.Exec(ctx,
			"INSERT INTO item_categories (item_id, category_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			item.ID, categoryID); err != nil {
			return models.Item{}, fmt.Errorf("failed to tag item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Item{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return item, nil
}

// GetItem retrieves an item with its category ids
func (db *DB) GetItem(ctx context.Context, itemID int64) (models.Item, error) {
	item := models.Item{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, owner_id, title, description, starting_price, opens_at, closes_at FROM items WHERE id = $1",
		itemID).Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.StartingPrice, &item.OpensAt, &item.ClosesAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Item{}, storage.ErrNotFound
		}
		return models.Item{}, fmt.Errorf("failed to get item: %w", err)
	}

	rows, err := db.Pool.Query(ctx,
		"SELECT category_id FROM item_categories WHERE item_id = $1 ORDER BY category_id", itemID)
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to get item categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return models.Item{}, fmt.Errorf("failed to scan category: %w", err)
		}
		item.CategoryIDs = append(item.CategoryIDs, id)
	}
	return item, rows.Err()
}

// AppendBid inserts a bid while holding the item's row lock. The insert is
// conditional, so a bid that no longer beats the maximum writes nothing.
func (db *DB) AppendBid(ctx context.Context, bid models.Bid, floor int64) (models.Bid, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return models.Bid{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the item row so concurrent appends for the same item serialize
	var locked int64
	err = tx.QueryRow(ctx, "SELECT id FROM items WHERE id = $1 FOR UPDATE", bid.ItemID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, storage.ErrNotFound
		}
		return models.Bid{}, fmt.Errorf("failed to lock item: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bids (item_id, bidder_id, amount, placed_at)
		SELECT $1::bigint, $2::bigint, $3::bigint, $4::timestamptz
		WHERE $3::bigint > $5::bigint
		  AND $3::bigint > COALESCE((SELECT MAX(amount) FROM bids WHERE item_id = $1::bigint), 0)
		RETURNING id`,
		bid.ItemID, bid.BidderID, bid.Amount, bid.PlacedAt, floor).Scan(&bid.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, storage.ErrBelowFloor
		}
		return models.Bid{}, fmt.Errorf("failed to append bid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Bid{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return bid, nil
}

// ListBids retrieves an item's ledger, highest amount first
func (db *DB) ListBids(ctx context.Context, itemID int64) ([]models.Bid, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, item_id, bidder_id, amount, placed_at
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC, placed_at ASC, id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		var bid models.Bid
		if err := rows.Scan(&bid.ID, &bid.ItemID, &bid.BidderID, &bid.Amount, &bid.PlacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}

// MaxBid retrieves the highest bid of an item
func (db *DB) MaxBid(ctx context.Context, itemID int64) (models.Bid, error) {
	var bid models.Bid
	err := db.Pool.QueryRow(ctx, `
		SELECT id, item_id, bidder_id, amount, placed_at
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC, placed_at ASC, id ASC
		LIMIT 1
	`, itemID).Scan(&bid.ID, &bid.ItemID, &bid.BidderID, &bid.Amount, &bid.PlacedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, storage.ErrNotFound
		}
		return models.Bid{}, fmt.Errorf("failed to get max bid: %w", err)
	}
	return bid, nil
}

// ListItems retrieves item summaries matching q
func (db *DB) ListItems(ctx context.Context, q storage.ListQuery) ([]models.ItemSummary, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.OwnerID != 0 {
		where = append(where, "i.owner_id = "+arg(q.OwnerID))
	}
	if q.BidderID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM bids b WHERE b.item_id = i.id AND b.bidder_id = "+arg(q.BidderID)+")")
	}
	if q.CategoryID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM item_categories ic WHERE ic.item_id = i.id AND ic.category_id = "+arg(q.CategoryID)+")")
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		p := arg("%" + escapeLike(text) + "%")
		where = append(where, "(i.title ILIKE "+p+" OR i.description ILIKE "+p+")")
	}
	if !q.ClosesAfter.IsZero() {
		where = append(where, "i.closes_at > "+arg(q.ClosesAfter))
	}
	if !q.ClosesBefore.IsZero() {
		where = append(where, "i.closes_at <= "+arg(q.ClosesBefore))
	}

	sql := "SELECT i.id, i.title, i.description, i.closes_at, i.owner_id, u.first_name, u.last_name " +
		"FROM items i JOIN users u ON i.owner_id = u.id"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY i.id"
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + arg(q.Offset)
	}

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := []models.ItemSummary{}
	for rows.Next() {
		var s models.ItemSummary
		if err := rows.Scan(&s.ItemID, &s.Title, &s.Description, &s.ClosesAt, &s.OwnerID, &s.FirstName, &s.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CreateQuestion inserts an unanswered question
func (db *DB) CreateQuestion(ctx context.Context, q models.Question) (models.Question, error) {
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO questions (item_id, asker_id, text, asked_at) VALUES ($1, $2, $3, $4) RETURNING id",
		q.ItemID, q.AskerID, q.Text, q.AskedAt).Scan(&q.ID)
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to create question: %w", err)
	}
	q.Answer = nil
	return q, nil
}

// GetQuestion retrieves a question by id
func (db *DB) GetQuestion(ctx context.Context, questionID int64) (models.Question, error) {
	var q models.Question
	err := db.Pool.QueryRow(ctx,
		"SELECT id, item_id, asker_id, text, answer, asked_at FROM questions WHERE id = $1",
		questionID).Scan(&q.ID, &q.ItemID, &q.AskerID, &q.Text, &q.Answer, &q.AskedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Question{}, storage.ErrNotFound
		}
		return models.Question{}, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// AnswerQuestion sets the answer only while it is still NULL
func (db *DB) AnswerQuestion(ctx context.Context, questionID int64, answer string) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE questions SET answer = $1 WHERE id = $2 AND answer IS NULL", answer, questionID)
	if err != nil {
		return fmt.Errorf("failed to answer question: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := db.GetQuestion(ctx, questionID); err != nil {
		return err
	}
	return storage.ErrAlreadyAnswered
}

// ListQuestions retrieves an item's questions, newest first
func (db *DB) ListQuestions(ctx context.Context, itemID int64) ([]models.Question, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, item_id, asker_id, text, answer, asked_at FROM questions WHERE item_id = $1 ORDER BY id DESC",
		itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.ItemID, &q.AskerID, &q.Text, &q.Answer, &q.AskedAt); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateCategory inserts a category
func (db *DB) CreateCategory(ctx context.Context, name string) (models.Category, error) {
	c := models.Category{Name: name}
	err := db.Pool.QueryRow(ctx, "INSERT INTO categories (name) VALUES ($1) RETURNING id", name).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Category{}, storage.ErrAlreadyExists
		}
		return models.Category{}, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// ListCategories retrieves all categories sorted by name
func (db *DB) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id, name FROM categories ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// MissingCategories returns the ids with no category row
func (db *DB) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT id FROM UNNEST($1::bigint[]) AS t(id) WHERE NOT EXISTS (SELECT 1 FROM categories c WHERE c.id = t.id)",
		ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check categories: %w", err)
	}
	defer rows.Close()

	var missing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category id: %w", err)
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}
