package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appbatches "github.com/medphys/bulkcbct/internal/application/batches"
	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

type captureScanner struct {
	root string
	opts studies.ScanOptions
}

func (c *captureScanner) Scan(root string, opts studies.ScanOptions) (*studies.Inventory, error) {
	c.root = root
	c.opts = opts
	return &studies.Inventory{
		Root:         root,
		GeneratedAt:  time.Unix(0, 0).UTC(),
		Extensions:   opts.Extensions,
		NestedSeries: opts.NestedSeries,
	}, nil
}

func okAnalyzer() domain.Analyzer {
	return domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		return domain.Metrics{}, nil
	})
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScanUsesConfiguredDefaults(t *testing.T) {
	scanner := &captureScanner{}
	h := NewRouter(&appbatches.Service{Scanner: scanner}, nil, ScanDefaults{
		Extensions:   []string{".ima"},
		NestedSeries: true,
	}, nil)

	rec := postJSON(t, h, "/v1/scan", `{"root": "/data/cbct"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "/data/cbct", scanner.root)
	assert.Equal(t, []string{".ima"}, scanner.opts.Extensions)
	assert.True(t, scanner.opts.NestedSeries)
	assert.False(t, scanner.opts.FollowSymlinks)
}

func TestScanRequestOverridesDefaults(t *testing.T) {
	scanner := &captureScanner{}
	h := NewRouter(&appbatches.Service{Scanner: scanner}, nil, ScanDefaults{
		Extensions:     []string{".ima"},
		FollowSymlinks: true,
		NestedSeries:   true,
	}, nil)

	rec := postJSON(t, h, "/v1/scan",
		`{"root": "/data/cbct", "extensions": [".dcm"], "nested_series": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{".dcm"}, scanner.opts.Extensions)
	// Explicit false wins over the configured default; the omitted flag
	// keeps it.
	assert.False(t, scanner.opts.NestedSeries)
	assert.True(t, scanner.opts.FollowSymlinks)
}

func TestTriggerBatchFallsBackToDefaultPhantom(t *testing.T) {
	svc := &appbatches.Service{Scanner: &captureScanner{}, Analyzer: okAnalyzer()}
	h := NewRouter(svc, nil, ScanDefaults{Phantom: "CatPhan600"}, nil)

	rec := postJSON(t, h, "/v1/batches", `{"root": "/data/cbct"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "CatPhan600", resp["phantom"])
}

func TestTriggerBatchRequiresPhantomWithoutDefault(t *testing.T) {
	svc := &appbatches.Service{Scanner: &captureScanner{}, Analyzer: okAnalyzer()}
	h := NewRouter(svc, nil, ScanDefaults{}, nil)

	rec := postJSON(t, h, "/v1/batches", `{"root": "/data/cbct"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerBatchExplicitPhantomWins(t *testing.T) {
	svc := &appbatches.Service{Scanner: &captureScanner{}, Analyzer: okAnalyzer()}
	h := NewRouter(svc, nil, ScanDefaults{Phantom: "CatPhan600"}, nil)

	rec := postJSON(t, h, "/v1/batches", `{"root": "/data/cbct", "phantom": "CatPhan503"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CatPhan503", resp["phantom"])
}
