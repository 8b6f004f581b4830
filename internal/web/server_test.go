package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvload/internal/colmap"
	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/schema"
	"github.com/JonMunkholm/csvload/internal/storage/memory"
)

const bankMap = `
sources:
  bank:
    match: ["*bank*.csv"]
    columns:
      - {canonicalField: amount, sourceColumn: Amt}
      - {canonicalField: payer, sourceColumn: Payer}
`

type testEnv struct {
	server  *Server
	service *core.Service
	store   *memory.Store
	inbox   string
}

func testConfig(inbox string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Load:   config.LoadConfig{InboxDir: inbox},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func setup(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	sc := schema.MustNew("payments", []schema.Field{
		{Name: "amount", Type: schema.FieldDecimal, Required: true},
		{Name: "payer", Type: schema.FieldString, Nullable: true},
	})
	reg, err := colmap.Parse([]byte(bankMap), colmap.FormatYAML, sc)
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, store.Migrate(context.Background(), sc))
	svc := core.NewService(core.NewLoader(reg, store, core.LoaderConfig{}), core.NewLoadLimiter(2, time.Second))

	inbox := t.TempDir()
	cfg := testConfig(inbox)
	if mutate != nil {
		mutate(cfg)
	}
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, service: svc, store: store, inbox: inbox}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) writeInbox(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.inbox, name), []byte(content), 0o644))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := setup(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body struct {
		Status string                 `json:"status"`
		Loads  core.LoadLimiterStatus `json:"loads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Loads.MaxConcurrent)
}

func TestLoadsAndBatches(t *testing.T) {
	env := setup(t, nil)
	env.writeInbox(t, "jan_bank.csv", "Amt,Payer\n1.50,Ann\n2,Bob\n")
	env.writeInbox(t, "feb_bank.csv", "Amt,Payer\nten,Ann\n")

	rec := env.do(t, http.MethodPost, "/api/loads", `{"files":["jan_bank.csv","feb_bank.csv"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var loads LoadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loads))
	require.Len(t, loads.Results, 2)
	assert.Equal(t, 1, loads.Failed)
	assert.Equal(t, core.PhaseCommitted, loads.Results[0].Phase)
	assert.Equal(t, int64(2), loads.Results[0].RowsLoaded)
	assert.Equal(t, "jan_bank.csv", loads.Results[0].Path)
	assert.Equal(t, "ROW004", loads.Results[1].Code)
	assert.NotContains(t, loads.Results[1].Error, env.inbox)

	rec = env.do(t, http.MethodGet, "/api/batches?status=committed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Batches []core.Batch `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Batches, 1)
	id := list.Batches[0].ID.String()

	rec = env.do(t, http.MethodGet, "/api/batches/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/batches/"+id+"/rollback", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rb core.RollbackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rb))
	assert.Equal(t, int64(2), rb.RowsDeleted)

	rec = env.do(t, http.MethodPost, "/api/batches/"+id+"/rollback", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BAT002", decodeError(t, rec).Code)
}

func TestErrorResponses(t *testing.T) {
	env := setup(t, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"bad status filter", http.MethodGet, "/api/batches?status=done", "", http.StatusBadRequest, "REQ001"},
		{"bad limit", http.MethodGet, "/api/batches?limit=-1", "", http.StatusBadRequest, "REQ001"},
		{"bad batch id", http.MethodGet, "/api/batches/nope", "", http.StatusBadRequest, "REQ001"},
		{"unknown batch", http.MethodGet, "/api/batches/7d1e6f5c-1b7c-4a63-9a55-2d2b4d0c9f11", "", http.StatusNotFound, "BAT001"},
		{"path escape", http.MethodPost, "/api/loads", `{"files":["../etc/passwd"]}`, http.StatusBadRequest, "REQ001"},
		{"empty files", http.MethodPost, "/api/loads", `{"files":[]}`, http.StatusBadRequest, "REQ001"},
		{"unknown field", http.MethodPost, "/api/loads", `{"paths":["a.csv"]}`, http.StatusBadRequest, "REQ001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestLoads_MissingFileFails(t *testing.T) {
	env := setup(t, nil)
	rec := env.do(t, http.MethodPost, "/api/loads", `{"files":["gone_bank.csv"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var loads LoadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loads))
	assert.Equal(t, "FILE002", loads.Results[0].Code)
}

func TestLoads_DisabledWithoutInbox(t *testing.T) {
	env := setup(t, func(c *config.Config) { c.Load.InboxDir = "" })
	rec := env.do(t, http.MethodPost, "/api/loads", `{"files":["a.csv"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "LOAD003", decodeError(t, rec).Code)
}

func TestLoads_OutliveWriteTimeout(t *testing.T) {
	env := setup(t, func(c *config.Config) {
		c.Server.WriteTimeout = 100 * time.Millisecond
		c.Load.Timeout = 5 * time.Second
		c.Load.MaxWaitTime = time.Second
	})
	env.store.InsertHook = func(string, int) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}
	env.writeInbox(t, "slow_bank.csv", "Amt,Payer\n1,Ann\n")

	ts := httptest.NewUnstartedServer(env.server.Router())
	ts.Config.WriteTimeout = 100 * time.Millisecond
	ts.Start()
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/api/loads", "application/json", strings.NewReader(`{"files":["slow_bank.csv"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loads LoadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loads))
	require.Len(t, loads.Results, 1)
	assert.Equal(t, core.PhaseCommitted, loads.Results[0].Phase)
}

func TestLoadDeadline(t *testing.T) {
	env := setup(t, func(c *config.Config) {
		c.Server.WriteTimeout = time.Second
		c.Load.Timeout = time.Minute
		c.Load.MaxWaitTime = 10 * time.Second
	})

	// Two slots: three files take two rounds.
	got := time.Until(env.server.loadDeadline(3))
	assert.InDelta(t, (2*70*time.Second + time.Second).Seconds(), got.Seconds(), 1)

	env.server.cfg.Load.Timeout = 0
	assert.True(t, env.server.loadDeadline(3).IsZero())
}

func TestAPIKeyAuth(t *testing.T) {
	env := setup(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})
	env.writeInbox(t, "jan_bank.csv", "Amt,Payer\n1,Ann\n")
	body := `{"files":["jan_bank.csv"]}`

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/loads", body).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/loads", body, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/loads", body, "X-API-Key", "secret").Code)

	// Reads stay open.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/batches", "").Code)
}

func TestRateLimit(t *testing.T) {
	env := setup(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
}
