package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default().Database
	cfg.Driver = "sqlite"
	cfg.DSN = ":memory:"

	store, err := NewStore(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPage(taskID, id, url string, at time.Time) *scan.Page {
	resp := &types.Response{
		URL:     url,
		Status:  200,
		Header:  types.NewResponseHeader(),
		Content: "<form action=\"/login\"></form>",
	}
	return &scan.Page{
		ID:        id,
		TaskID:    taskID,
		Signature: 0xdeadbeef,
		Request:   types.Request{URL: url, Method: "GET"},
		Response:  resp,
		Forms:     []scan.Form{{Action: "/login", HTML: "<form action=\"/login\"></form>", PageURL: url}},
		CreatedAt: at,
	}
}

func exercisePageStore(t *testing.T, store *Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.SavePage(ctx, testPage("t1", "b", "http://h/b", base.Add(time.Second))))
	require.NoError(t, store.SavePage(ctx, testPage("t1", "a", "http://h/a", base)))
	require.NoError(t, store.SavePage(ctx, testPage("t2", "c", "http://h/c", base)))

	// Same ID again keeps the first copy.
	dup := testPage("t1", "a", "http://h/changed", base)
	require.NoError(t, store.SavePage(ctx, dup))

	pages, err := store.ListPages(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "a", pages[0].ID)
	assert.Equal(t, "http://h/a", pages[0].URL)
	assert.Equal(t, "b", pages[1].ID)
	assert.Equal(t, 200, pages[0].Status)
	assert.Equal(t, "GET", pages[0].Method)
	assert.Equal(t, "deadbeef", pages[0].Signature)
	assert.True(t, base.Equal(pages[0].CreatedAt))

	var forms []scan.Form
	require.NoError(t, json.Unmarshal(pages[0].Forms, &forms))
	require.Len(t, forms, 1)
	assert.Equal(t, "/login", forms[0].Action)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(pages[0].Response, &resp))
	assert.Equal(t, "http://h/a", resp["url"])

	all, err := store.ListPages(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.ListPages(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := store.CountPages(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_SQLite(t *testing.T) {
	exercisePageStore(t, setupTestStore(t))
}

func TestStore_SQLiteFileReopen(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "nested", "pages.db")

	store, err := NewStore(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SavePage(context.Background(), testPage("t", "p", "http://h/", time.Now())))
	require.NoError(t, store.Close())

	// Migrations already applied must not run again.
	store, err = NewStore(cfg, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	n, err := store.CountPages(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_SavePageWithoutResponse(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	page := &scan.Page{ID: "x", TaskID: "t", Request: types.Request{URL: "http://h/x", Method: "POST"}}
	require.NoError(t, store.SavePage(ctx, page))

	pages, err := store.ListPages(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "http://h/x", pages[0].URL)
	assert.Equal(t, 0, pages[0].Status)
	assert.JSONEq(t, "null", string(pages[0].Response))
	assert.JSONEq(t, "[]", string(pages[0].Forms))
}

func TestStore_AsPageSink(t *testing.T) {
	store := setupTestStore(t)
	state := scan.NewState("task", nil, store)

	require.NoError(t, state.Sink.SavePage(context.Background(), testPage("task", "1", "http://h/", time.Now())))
	n, err := store.CountPages(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "***", maskDSN("short"))
	assert.Equal(t, "postg***sable", maskDSN("postgres://u:secret@h/db?sslmode=disable"))
}

func TestStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("replayer_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := config.Default().Database
	cfg.Driver = "postgres"
	cfg.DSN = dsn

	store, err := NewStore(cfg, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	exercisePageStore(t, store)
}
