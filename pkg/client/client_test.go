package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestClient_Protect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathProtect, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "alice", r.FormValue("owner_id"))
		assert.Equal(t, "6", r.FormValue("strength"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "cat.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngHeader, data)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", `attachment; filename="protected_cat.png"`)
		w.Write([]byte("protected"))
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	artifact, err := c.Protect(context.Background(), ProtectRequest{
		File:     Upload{Name: "cat.png", Data: pngHeader},
		OwnerID:  "alice",
		Strength: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, "protected", string(artifact.Data))
	assert.Equal(t, "image/png", artifact.ContentType)
	assert.Equal(t, "protected_cat.png", artifact.Filename)
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want VerifyResult
	}{
		{
			name: "found",
			body: `{"watermark_found":true,"owner_id":"alice","extracted_text":"wm-123","match_ratio":0.97,"confidence":97.5,"tamper_status":"intact"}`,
			want: VerifyResult{Found: true, OwnerID: "alice", ExtractedText: strPtr("wm-123"), MatchRatio: 0.97, Confidence: 97.5, TamperStatus: "intact"},
		},
		{
			name: "missing fields take neutral values",
			body: `{"watermark_found":false}`,
			want: VerifyResult{Found: false, OwnerID: "Unknown"},
		},
		{
			name: "unknown extracted text is no token",
			body: `{"watermark_found":true,"extracted_text":"Unknown","confidence":"42"}`,
			want: VerifyResult{Found: true, OwnerID: "Unknown", Confidence: 42},
		},
		{
			name: "confidence clamped",
			body: `{"watermark_found":true,"confidence":250,"owner_id":null}`,
			want: VerifyResult{Found: true, OwnerID: "Unknown", Confidence: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, PathVerify, r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := New(server.URL, "").Verify(context.Background(), Upload{Data: pngHeader})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestClient_VerifyMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := New(server.URL, "").Verify(context.Background(), Upload{Data: pngHeader})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_ServiceError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"fastapi detail", http.StatusBadRequest, `{"detail":"Only PNG and JPEG images are supported"}`, "Only PNG and JPEG images are supported"},
		{"validation errors", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"},{"msg":"value too large"}]}`, "field required; value too large"},
		{"plain text", http.StatusInternalServerError, "embedding failed", "embedding failed"},
		{"html page", http.StatusBadGateway, "<html><body>Bad Gateway</body></html>", "The processing service failed (HTTP 502)."},
		{"empty body", http.StatusTooManyRequests, "", "The service is rate limiting requests, try again shortly (HTTP 429)."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL, "").StripMetadata(context.Background(), Upload{Data: pngHeader})
			var svcErr *ServiceError
			require.True(t, errors.As(err, &svcErr))
			assert.Equal(t, tt.status, svcErr.Status)
			assert.Equal(t, tt.wantMessage, svcErr.Message())
			assert.False(t, IsNetworkError(err))
		})
	}
}

func TestServiceError_Field(t *testing.T) {
	err := &ServiceError{Status: http.StatusConflict, Body: `{"detail":{"message":"already protected","owner_id":"alice"}}`}
	assert.Equal(t, "alice", err.Field("owner_id"))
	assert.Equal(t, "", err.Field("missing"))

	flat := &ServiceError{Status: http.StatusConflict, Body: `{"detail":"dup","owner_id":"bob"}`}
	assert.Equal(t, "bob", flat.Field("owner_id"))
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url, "").Verify(context.Background(), Upload{Data: pngHeader})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

func TestClient_DetectTampering(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathDetectTampering, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "fast", r.FormValue("mode"))
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"detection_report": map[string]any{
				"overall_tampering_confidence": 81.5,
				"confidence_level":             "HIGH",
				"likely_removed":               true,
				"detected_techniques":          []string{"JPEG compression", "Resizing"},
				"forensic_explanation":         "frequency artifacts",
			},
		})
	}))
	defer server.Close()

	report, err := New(server.URL, "").DetectTampering(context.Background(), Upload{Data: pngHeader}, DetectFast)
	require.NoError(t, err)
	assert.Equal(t, 81.5, report.OverallTamperingConfidence)
	assert.Equal(t, "HIGH", report.ConfidenceLevel)
	assert.True(t, report.LikelyRemoved)
	assert.Equal(t, []string{"JPEG compression", "Resizing"}, report.DetectedTechniques)
	assert.Empty(t, report.TechnicalSummary)
}

func TestClient_Forensics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathForensics, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status":             "success",
			"overall_confidence": 42.5,
			"artifacts": map[string]any{
				"blur": map[string]any{
					"artifact_type":              "blur",
					"confidence":                 12.0,
					"description":                "slight blur",
					"affected_region_percentage": 3.5,
				},
				"noise": map[string]any{
					"artifact_type": "noise",
					"confidence":    71.25,
					"description":   "inconsistent noise",
				},
			},
			"image_dimensions": []int{640, 480},
		})
	}))
	defer server.Close()

	report, err := New(server.URL, "").Forensics(context.Background(), Upload{Data: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, 42.5, report.OverallConfidence)
	require.Len(t, report.Artifacts, 2)
	assert.Equal(t, "noise", report.Artifacts[0].Type)
	assert.Equal(t, "blur", report.Artifacts[1].Type)
	assert.Equal(t, 3.5, report.Artifacts[1].AffectedRegionPercentage)
	assert.Equal(t, 640, report.Width)
	assert.Equal(t, 480, report.Height)
}

func TestClient_VerifyToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{"accepted", http.StatusOK, `{"valid":true,"user_id":1}`, true, nil},
		{"explicitly invalid", http.StatusOK, `{"valid":false}`, false, nil},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Invalid token"}`, false, nil},
		{"forbidden", http.StatusForbidden, `{"detail":"Not authenticated"}`, false, nil},
		{"no endpoint", http.StatusNotFound, `{"detail":"Not Found"}`, false, ErrTokenCheckUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, PathVerifyToken, r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := New(server.URL, "tok").VerifyToken(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_AdversarialProtect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAdversarialProtect, r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set(RobustnessHeader, "0.875")
		w.Write([]byte("hardened"))
	}))
	defer server.Close()

	result, err := New(server.URL, "").AdversarialProtect(context.Background(), Upload{Data: pngHeader}, 5)
	require.NoError(t, err)
	assert.Equal(t, "hardened", string(result.Data))
	require.NotNil(t, result.RobustnessScore)
	assert.Equal(t, 0.875, *result.RobustnessScore)
}

func TestClient_RegistryConfig(t *testing.T) {
	t.Run("deployed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(`{"abi":[{"type":"function","name":"register"}],"contract_address":"0x5FbDB2315678afecb367f032d93F642f64180aa3"}`))
		}))
		defer server.Close()

		cfg, err := New(server.URL, "").RegistryConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.ContractAddress)
		assert.JSONEq(t, `[{"type":"function","name":"register"}]`, string(cfg.ABI))
	})

	t.Run("not deployed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"abi":null,"contract_address":null}`))
		}))
		defer server.Close()

		cfg, err := New(server.URL, "").RegistryConfig(context.Background())
		require.NoError(t, err)
		assert.Empty(t, cfg.ContractAddress)
		assert.Nil(t, cfg.ABI)
	})
}

func TestClient_APIVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathOpenAPI, r.URL.Path)
		w.Write([]byte(`{"openapi":"3.1.0","info":{"title":"Watermark API","version":"1.2.0"}}`))
	}))
	defer server.Close()

	version, err := New(server.URL, "").APIVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", version)
}

func TestClient_PublicLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify/public/wm%2F1", r.URL.EscapedPath())
		w.Write([]byte(`{"watermark_id":"wm/1","owner_id":"alice","strength":5}`))
	}))
	defer server.Close()

	rec, err := New(server.URL, "").PublicLookup(context.Background(), "wm/1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, 5, rec.Strength)
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	c := New(server.URL, "", WithRateLimit(1, 1))
	_, err := c.Health(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Health(ctx)
	assert.True(t, IsNetworkError(err))
}

func strPtr(s string) *string { return &s }
