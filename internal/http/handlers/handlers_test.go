package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/ingest"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := repo.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeRunner substitutes the ingestion engine behind the HTTP layer. Claim
// returns the configured job or error; Process signals processed so tests can
// wait for the background loop.
type fakeRunner struct {
	mu        sync.Mutex
	claimJob  *domain.IngestionJob
	claimErr  error
	processed chan ingest.Options
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{processed: make(chan ingest.Options, 4)}
}

func (f *fakeRunner) Claim(ctx context.Context, id domain.ResourceIdentity, opts ingest.Options) (*domain.IngestionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimJob, nil
}

func (f *fakeRunner) Process(ctx context.Context, job *domain.IngestionJob, opts ingest.Options) (*domain.IngestionJob, error) {
	f.processed <- opts
	return job, nil
}

func (f *fakeRunner) waitProcessed(t *testing.T) ingest.Options {
	t.Helper()
	select {
	case opts := <-f.processed:
		return opts
	case <-time.After(2 * time.Second):
		t.Fatal("background Process never ran")
		return ingest.Options{}
	}
}

// stubSearcher returns a fixed result set.
type stubSearcher struct {
	results []search.Result
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string, f search.Filters, limit, offset int) ([]search.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/municipalities", h.UpsertMunicipality)
	r.GET("/municipalities", h.ListMunicipalities)
	r.POST("/webhooks/ingest", h.IngestWebhook)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/fail", h.FailJob)
	r.POST("/jobs/:id/resume", h.ResumeJob)
	r.POST("/searches", h.CreateSavedSearch)
	r.GET("/searches/:id", h.GetSavedSearch)
	r.GET("/search", h.Search)
	return r
}

// doJSON performs a request with an optional JSON body and decodes the JSON
// response into a generic map.
func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, header map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, out
}
