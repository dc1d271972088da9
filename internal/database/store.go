// Package database keeps the log of explored pages. Engines bound to a
// scan.State with this store as its sink write every new page here.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
)

func init() {
	// glebarez/go-sqlite registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DefaultListLimit caps ListPages when the caller passes no limit.
const DefaultListLimit = 100

type Store struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// PageRecord is a stored page. Request, Response and Forms hold the JSON
// written at save time.
type PageRecord struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Signature string          `json:"signature"`
	Method    string          `json:"method"`
	URL       string          `json:"url"`
	Status    int             `json:"status"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	Forms     json.RawMessage `json:"forms"`
	CreatedAt time.Time       `json:"created_at"`
}

type pageRow struct {
	ID        string `db:"id"`
	TaskID    string `db:"task_id"`
	Signature string `db:"signature"`
	Method    string `db:"method"`
	URL       string `db:"url"`
	Status    int    `db:"status"`
	Request   string `db:"request"`
	Response  string `db:"response"`
	Forms     string `db:"forms"`
	CreatedAt int64  `db:"created_at"`
}

// getPlaceholder returns the appropriate placeholder for the database driver
func (s *Store) getPlaceholder(n int) string {
	if s.cfg.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (store *Store, err error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	log = log.WithComponent("database")

	start := time.Now()
	ctx, span := log.StartOperation(context.Background(), "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", start, err)
	}()

	if cfg.Driver == "sqlite" && !strings.Contains(cfg.DSN, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Connect",
			"driver", cfg.Driver,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// One writer; an in-memory database also only exists on its connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store = &Store{db: db, cfg: cfg, logger: log}

	if err = NewMigrationRunner(db, log).RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithContext(ctx).Infow("Page store initialized",
		"driver", cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return store, nil
}

// maskDSN masks sensitive information in DSN for logging
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

// SavePage stores page. Saving the same page ID twice keeps the first copy.
func (s *Store) SavePage(ctx context.Context, page *scan.Page) (err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.SavePage",
		"page_id", page.ID,
		"task_id", page.TaskID,
	)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.SavePage", start, err)
	}()

	request, err := json.Marshal(page.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	response := []byte("null")
	url, status := page.Request.URL, 0
	if page.Response != nil {
		if response, err = json.Marshal(page.Response); err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		url, status = page.Response.URL, page.Response.Status
	}
	forms := page.Forms
	if forms == nil {
		forms = []scan.Form{}
	}
	formsJSON, err := json.Marshal(forms)
	if err != nil {
		return fmt.Errorf("failed to marshal forms: %w", err)
	}

	created := page.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	query := `
		INSERT INTO pages (
			id, task_id, signature, method, url, status,
			request, response, forms, created_at
		) VALUES (
			:id, :task_id, :signature, :method, :url, :status,
			:request, :response, :forms, :created_at
		)
		ON CONFLICT (id) DO NOTHING
	`
	row := pageRow{
		ID:        page.ID,
		TaskID:    page.TaskID,
		Signature: strconv.FormatUint(page.Signature, 16),
		Method:    page.Request.Method,
		URL:       url,
		Status:    status,
		Request:   string(request),
		Response:  string(response),
		Forms:     string(formsJSON),
		CreatedAt: created.UnixMilli(),
	}

	queryStart := time.Now()
	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		s.logger.LogError(ctx, err, "database.SavePage.insert",
			"page_id", page.ID,
			"query_duration_ms", time.Since(queryStart).Milliseconds(),
		)
		return fmt.Errorf("failed to save page %s: %w", page.ID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "INSERT", "pages", rowsAffected, time.Since(queryStart),
		"page_id", page.ID,
		"url", url,
	)
	return nil
}

// ListPages returns the pages of taskID, oldest first. An empty taskID lists
// every task.
func (s *Store) ListPages(ctx context.Context, taskID string, limit int) ([]PageRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, task_id, signature, method, url, status, request, response, forms, created_at FROM pages`
	args := []interface{}{}
	n := 1
	if taskID != "" {
		query += " WHERE task_id = " + s.getPlaceholder(n)
		args = append(args, taskID)
		n++
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT " + s.getPlaceholder(n)
	args = append(args, limit)

	start := time.Now()
	var rows []pageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "SELECT", "pages", int64(len(rows)), time.Since(start),
		"task_id", taskID,
	)

	pages := make([]PageRecord, 0, len(rows))
	for _, r := range rows {
		pages = append(pages, PageRecord{
			ID:        r.ID,
			TaskID:    r.TaskID,
			Signature: r.Signature,
			Method:    r.Method,
			URL:       r.URL,
			Status:    r.Status,
			Request:   json.RawMessage(r.Request),
			Response:  json.RawMessage(r.Response),
			Forms:     json.RawMessage(r.Forms),
			CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		})
	}
	return pages, nil
}

// CountPages reports how many pages taskID has stored.
func (s *Store) CountPages(ctx context.Context, taskID string) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM pages WHERE task_id = " + s.getPlaceholder(1)
	if err := s.db.GetContext(ctx, &n, query, taskID); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ scan.PageSink = (*Store)(nil)
