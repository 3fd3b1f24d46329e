//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/pngprotect/internal/artifacts"
	"github.com/pendergraft/pngprotect/internal/config"
	"github.com/pendergraft/pngprotect/internal/dedup"
	"github.com/pendergraft/pngprotect/internal/registry"
	"github.com/pendergraft/pngprotect/internal/server"
	"github.com/pendergraft/pngprotect/internal/wallet"
	"github.com/pendergraft/pngprotect/internal/workflow"
	"github.com/pendergraft/pngprotect/pkg/client"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRe2e-image")

// fakeProcessingService stands in for the remote protection service
func fakeProcessingService(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case client.PathProtect:
			calls.Add(1)
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		case client.PathVerify:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"watermark_found": true,
				"owner_id":        "alice",
				"extracted_text":  "token-e2e",
				"confidence":      97,
				"match_ratio":     0.98,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newLocalAPI(t *testing.T, serviceURL string) http.Handler {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	store := openStore(t)
	arts, err := artifacts.New(t.TempDir())
	require.NoError(t, err)

	svc := client.New(serviceURL, "")
	provider, err := wallet.Dial(ctx, "http://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(provider.Close)
	session := wallet.NewSession(provider, 0, logger)

	orch, err := workflow.New(workflow.Deps{
		Dedup:     dedup.Load(ctx, store, logger),
		Service:   svc,
		Artifacts: arts,
		Wallet:    session,
		Registry:  registry.New(svc, nil, session, logger),
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })

	return server.New(config.ServerConfig{MaxUploadMB: 5}, workflow.LoggingMiddleware(logger)(orch), arts, logger).Handler()
}

func upload(t *testing.T, h http.Handler, path string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	fw.Write(pngBytes)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLocalAPI_ProtectTwiceIsBlocked(t *testing.T) {
	var calls atomic.Int32
	svc := fakeProcessingService(t, &calls)
	h := newLocalAPI(t, svc.URL)

	w := upload(t, h, "/api/v1/protect", map[string]string{"owner_id": "alice", "strength": "40"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = upload(t, h, "/api/v1/protect", map[string]string{"owner_id": "bob"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	e := body["error"].(map[string]any)
	assert.Equal(t, "ALREADY_PROTECTED", e["code"])
	assert.Contains(t, e["message"], "alice")
	assert.Equal(t, int32(1), calls.Load(), "the service is called once")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/protect/artifact", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a blocked run has no artifact")
}

func TestLocalAPI_VerifyThenRegisterNeedsWallet(t *testing.T) {
	var calls atomic.Int32
	svc := fakeProcessingService(t, &calls)
	h := newLocalAPI(t, svc.URL)

	w := upload(t, h, "/api/v1/verify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "found", st["state"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/register", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/register", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ineligible", st["state"])
}
