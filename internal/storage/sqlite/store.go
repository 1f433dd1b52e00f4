// Package sqlite provides a SQLite-backed auction store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"
	"github.com/xtrntr/auction/internal/storage/sqlite/migrations"
	"github.com/xtrntr/auction/internal/textmatch"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const migrationTable = "schema_migrations"

// fold(text) case-folds text the same way the memory store does, so
// search ignores case beyond ASCII.
func init() {
	msqlite.MustRegisterDeterministicScalarFunction("fold", 1,
		func(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return textmatch.Fold(v), nil
			case []byte:
				return textmatch.Fold(string(v)), nil
			case nil:
				return nil, nil
			default:
				return nil, fmt.Errorf("fold: unsupported argument %T", v)
			}
		})
}

// Store persists auction state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations. Write
// transactions take the database lock up front (_txlock=immediate) so a
// read-then-insert inside one cannot interleave with another writer.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// applyMigrations executes each embedded .sql file at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec("INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// CreateUser inserts one user.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, email, password_hash, token_version, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		u.FirstName, u.LastName, u.Email, u.PasswordHash, toMillis(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return models.User{}, fmt.Errorf("create user id: %w", err)
	}
	u.TokenVersion = 0
	u.CreatedAt = fromMillis(toMillis(u.CreatedAt))
	return u, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (models.User, error) {
	var (
		u         models.User
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, password_hash, token_version, created_at
		 FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.TokenVersion, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, userID int64) (models.User, error) {
	return s.getUser(ctx, "id = ?", userID)
}

// GetUserByEmail returns one user by email; the column collates NOCASE.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// BumpTokenVersion revokes the user's issued tokens.
func (s *Store) BumpTokenVersion(ctx context.Context, userID int64) error {
	res, err := s.sqlDB.ExecContext(ctx, "UPDATE users SET token_version = token_version + 1 WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateItem inserts an item with its category links.
func (s *Store) CreateItem(ctx context.Context, item models.Item) (models.Item, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return models.Item{}, fmt.Errorf("begin create item: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (owner_id, title, description, starting_price, opens_at, closes_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.OwnerID, item.Title, item.Description, item.StartingPrice, toMillis(item.OpensAt), toMillis(item.ClosesAt))
	if err != nil {
		return models.Item{}, fmt.Errorf("create item: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return models.Item{}, fmt.Errorf("create item id: %w", err)
	}
	for _, categoryID := range item.CategoryIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO item_categories (item_id, category_id) VALUES (?, ?)",
			item.ID, categoryID); err != nil {
			return models.Item{}, fmt.Errorf("tag item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Item{}, fmt.Errorf("commit create item: %w", err)
	}
	item.OpensAt = fromMillis(toMillis(item.OpensAt))
	item.ClosesAt = fromMillis(toMillis(item.ClosesAt))
	return item, nil
}

// GetItem returns one item with its category ids.
func (s *Store) GetItem(ctx context.Context, itemID int64) (models.Item, error) {
	var (
		item             models.Item
		opensAt, closeAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, starting_price, opens_at, closes_at
		 FROM items WHERE id = ?`, itemID).
		Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.StartingPrice, &opensAt, &closeAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Item{}, storage.ErrNotFound
		}
		return models.Item{}, fmt.Errorf("get item: %w", err)
	}
	item.OpensAt = fromMillis(opensAt)
	item.ClosesAt = fromMillis(closeAt)

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT category_id FROM item_categories WHERE item_id = ? ORDER BY category_id", itemID)
	if err != nil {
		return models.Item{}, fmt.Errorf("get item categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return models.Item{}, fmt.Errorf("scan item category: %w", err)
		}
		item.CategoryIDs = append(item.CategoryIDs, id)
	}
	if err := rows.Err(); err != nil {
		return models.Item{}, fmt.Errorf("iterate item categories: %w", err)
	}
	return item, nil
}

// AppendBid inserts a bid only if it beats floor and the stored maximum.
// The immediate transaction holds the write lock across check and insert.
func (s *Store) AppendBid(ctx context.Context, bid models.Bid, floor int64) (models.Bid, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return models.Bid{}, fmt.Errorf("begin append bid: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM items WHERE id = ?", bid.ItemID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Bid{}, storage.ErrNotFound
		}
		return models.Bid{}, fmt.Errorf("check item: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bids (item_id, bidder_id, amount, placed_at)
		 SELECT ?1, ?2, ?3, ?4
		 WHERE ?3 > ?5
		   AND ?3 > COALESCE((SELECT MAX(amount) FROM bids WHERE item_id = ?1), 0)`,
		bid.ItemID, bid.BidderID, bid.Amount, toMillis(bid.PlacedAt), floor)
	if err != nil {
		return models.Bid{}, fmt.Errorf("append bid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Bid{}, fmt.Errorf("append bid: %w", err)
	}
	if n == 0 {
		return models.Bid{}, storage.ErrBelowFloor
	}
	if bid.ID, err = res.LastInsertId(); err != nil {
		return models.Bid{}, fmt.Errorf("append bid id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Bid{}, fmt.Errorf("commit append bid: %w", err)
	}
	bid.PlacedAt = fromMillis(toMillis(bid.PlacedAt))
	return bid, nil
}

func scanBids(rows *sql.Rows) ([]models.Bid, error) {
	defer rows.Close()
	bids := []models.Bid{}
	for rows.Next() {
		var (
			bid      models.Bid
			placedAt int64
		)
		if err := rows.Scan(&bid.ID, &bid.ItemID, &bid.BidderID, &bid.Amount, &placedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bid.PlacedAt = fromMillis(placedAt)
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return bids, nil
}

// ListBids returns the ledger of an item, highest amount first.
func (s *Store) ListBids(ctx context.Context, itemID int64) ([]models.Bid, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, item_id, bidder_id, amount, placed_at FROM bids
		 WHERE item_id = ? ORDER BY amount DESC, placed_at ASC, id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return scanBids(rows)
}

// MaxBid returns the highest bid of an item.
func (s *Store) MaxBid(ctx context.Context, itemID int64) (models.Bid, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, item_id, bidder_id, amount, placed_at FROM bids
		 WHERE item_id = ? ORDER BY amount DESC, placed_at ASC, id ASC LIMIT 1`, itemID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("max bid: %w", err)
	}
	bids, err := scanBids(rows)
	if err != nil {
		return models.Bid{}, err
	}
	if len(bids) == 0 {
		return models.Bid{}, storage.ErrNotFound
	}
	return bids[0], nil
}

// ListItems returns item summaries matching q. Text matches through fold.
func (s *Store) ListItems(ctx context.Context, q storage.ListQuery) ([]models.ItemSummary, error) {
	var (
		where []string
		args  []any
	)
	if q.OwnerID != 0 {
		where = append(where, "i.owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.BidderID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM bids b WHERE b.item_id = i.id AND b.bidder_id = ?)")
		args = append(args, q.BidderID)
	}
	if q.CategoryID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM item_categories ic WHERE ic.item_id = i.id AND ic.category_id = ?)")
		args = append(args, q.CategoryID)
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		where = append(where, "(instr(fold(i.title), fold(?)) > 0 OR instr(fold(i.description), fold(?)) > 0)")
		args = append(args, text, text)
	}
	if !q.ClosesAfter.IsZero() {
		where = append(where, "i.closes_at > ?")
		args = append(args, toMillis(q.ClosesAfter))
	}
	if !q.ClosesBefore.IsZero() {
		where = append(where, "i.closes_at <= ?")
		args = append(args, toMillis(q.ClosesBefore))
	}

	query := `SELECT i.id, i.title, i.description, i.closes_at, i.owner_id, u.first_name, u.last_name
		FROM items i JOIN users u ON i.owner_id = u.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.id LIMIT ? OFFSET ?"
	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, q.Offset)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []models.ItemSummary{}
	for rows.Next() {
		var (
			it       models.ItemSummary
			closesAt int64
		)
		if err := rows.Scan(&it.ItemID, &it.Title, &it.Description, &closesAt, &it.OwnerID, &it.FirstName, &it.LastName); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.ClosesAt = fromMillis(closesAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// CreateQuestion inserts an unanswered question.
func (s *Store) CreateQuestion(ctx context.Context, q models.Question) (models.Question, error) {
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now().UTC()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO questions (item_id, asker_id, text, asked_at) VALUES (?, ?, ?, ?)",
		q.ItemID, q.AskerID, q.Text, toMillis(q.AskedAt))
	if err != nil {
		return models.Question{}, fmt.Errorf("create question: %w", err)
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return models.Question{}, fmt.Errorf("create question id: %w", err)
	}
	q.Answer = nil
	q.AskedAt = fromMillis(toMillis(q.AskedAt))
	return q, nil
}

func scanQuestion(scan func(dest ...any) error) (models.Question, error) {
	var (
		q       models.Question
		answer  sql.NullString
		askedAt int64
	)
	if err := scan(&q.ID, &q.ItemID, &q.AskerID, &q.Text, &answer, &askedAt); err != nil {
		return models.Question{}, err
	}
	if answer.Valid {
		q.Answer = &answer.String
	}
	q.AskedAt = fromMillis(askedAt)
	return q, nil
}

// GetQuestion returns one question.
func (s *Store) GetQuestion(ctx context.Context, questionID int64) (models.Question, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, item_id, asker_id, text, answer, asked_at FROM questions WHERE id = ?", questionID)
	q, err := scanQuestion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Question{}, storage.ErrNotFound
		}
		return models.Question{}, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// AnswerQuestion sets the answer while it is still NULL.
func (s *Store) AnswerQuestion(ctx context.Context, questionID int64, answer string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		"UPDATE questions SET answer = ? WHERE id = ? AND answer IS NULL", answer, questionID)
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetQuestion(ctx, questionID); err != nil {
		return err
	}
	return storage.ErrAlreadyAnswered
}

// ListQuestions returns the questions of an item, newest first.
func (s *Store) ListQuestions(ctx context.Context, itemID int64) ([]models.Question, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, item_id, asker_id, text, answer, asked_at FROM questions WHERE item_id = ? ORDER BY id DESC", itemID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

// CreateCategory inserts one category.
func (s *Store) CreateCategory(ctx context.Context, name string) (models.Category, error) {
	res, err := s.sqlDB.ExecContext(ctx, "INSERT INTO categories (name) VALUES (?)", name)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Category{}, storage.ErrAlreadyExists
		}
		return models.Category{}, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Category{}, fmt.Errorf("create category id: %w", err)
	}
	return models.Category{ID: id, Name: name}, nil
}

// ListCategories returns categories sorted by name.
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

// MissingCategories returns the ids without a category row.
func (s *Store) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		var found int
		err := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM categories WHERE id = ?", id).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check category %d: %w", id, err)
		}
	}
	return missing, nil
}
