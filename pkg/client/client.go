// Package client provides a Go client for the image protection processing API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint paths of the processing service
const (
	PathProtect            = "/watermark/embed"
	PathAdversarialProtect = "/watermark/adversarial"
	PathVerify             = "/verify"
	PathPublicLookup       = "/verify/public/"
	PathStripMetadata      = "/metadata/strip"
	PathDetectTampering    = "/detect/detect"
	PathForensics          = "/detect/forensics-only"
	PathRegistryConfig     = "/registry/abi"
	PathVerifyOnChain      = "/registry/verify-image"
	PathHealth             = "/"
	PathOpenAPI            = "/openapi.json"
	PathVerifyToken        = "/auth/verify-token"
)

// RobustnessHeader carries the adversarial protection score
const RobustnessHeader = "X-Robustness-Score"

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 64 << 10

// Client is a processing service API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithRateLimit limits outgoing requests to requestsPerMin with the given
// burst. A non-positive rate disables limiting.
func WithRateLimit(requestsPerMin, burst int) Option {
	return func(client *Client) {
		if requestsPerMin <= 0 {
			client.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), burst)
	}
}

// New creates a new processing service client
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the service URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload is a file sent to the service
type Upload struct {
	Name        string
	Data        []byte
	ContentType string // detected from Data when empty
}

// Artifact is a binary result produced by the service
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

// HardenedArtifact is the result of adversarial protection
type HardenedArtifact struct {
	Artifact
	RobustnessScore *float64
}

// ProtectRequest holds the parameters of a protect call
type ProtectRequest struct {
	File     Upload
	OwnerID  string
	Strength int // service scale, 1-10
}

// VerifyResult is the parsed verify response. Missing fields take neutral values.
type VerifyResult struct {
	Found         bool
	OwnerID       string // "Unknown" when absent
	ExtractedText *string
	MatchRatio    float64
	Confidence    float64 // 0-100
	TamperStatus  string
}

// DetectMode selects the depth of tamper analysis
type DetectMode string

// Detection modes
const (
	DetectFull DetectMode = "full"
	DetectFast DetectMode = "fast"
)

// DetectionReport is the parsed tamper detection response
type DetectionReport struct {
	OverallTamperingConfidence float64
	ConfidenceLevel            string
	LikelyRemoved              bool
	DetectedTechniques         []string
	ForensicExplanation        string
	TechnicalSummary           string
}

// ForensicArtifact is one rule-based finding of a forensics run
type ForensicArtifact struct {
	Type                     string  `json:"type"`
	Confidence               float64 `json:"confidence"`
	Description              string  `json:"description"`
	AffectedRegionPercentage float64 `json:"affectedRegionPercentage"`
}

// ForensicsReport is the parsed forensics-only response
type ForensicsReport struct {
	OverallConfidence float64            `json:"overallConfidence"`
	Artifacts         []ForensicArtifact `json:"artifacts"`
	Width             int                `json:"width,omitempty"`
	Height            int                `json:"height,omitempty"`
}

// RegistryConfig describes the ownership registry contract
type RegistryConfig struct {
	ABI             json.RawMessage
	ContractAddress string // empty when the registry is not deployed
}

// Health is the service health response
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PublicRecord is the public metadata stored for a watermark id
type PublicRecord struct {
	WatermarkID string `json:"watermark_id"`
	OwnerID     string `json:"owner_id"`
	ImageHash   string `json:"image_hash"`
	Strength    int    `json:"strength"`
	CreatedAt   string `json:"created_at"`
}

// OnChainVerification is the server-side combined extract and ledger lookup
type OnChainVerification struct {
	Found       bool
	WatermarkID string
	MatchRatio  float64
	OnChain     bool
	Owner       string
	Timestamp   int64
	Message     string
}

// Protect embeds an ownership mark and returns the protected image
func (c *Client) Protect(ctx context.Context, req ProtectRequest) (*Artifact, error) {
	resp, err := c.postMultipart(ctx, PathProtect, req.File, [][2]string{
		{"owner_id", req.OwnerID},
		{"strength", strconv.Itoa(req.Strength)},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readArtifact(resp)
}

// AdversarialProtect embeds a mark hardened against removal attacks
func (c *Client) AdversarialProtect(ctx context.Context, file Upload, strength int) (*HardenedArtifact, error) {
	resp, err := c.postMultipart(ctx, PathAdversarialProtect, file, [][2]string{
		{"strength", strconv.Itoa(strength)},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	artifact, err := readArtifact(resp)
	if err != nil {
		return nil, err
	}

	result := &HardenedArtifact{Artifact: *artifact}
	if v := resp.Header.Get(RobustnessHeader); v != "" {
		if score, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			result.RobustnessScore = &score
		}
	}
	return result, nil
}

// StripMetadata returns the image with all metadata removed
func (c *Client) StripMetadata(ctx context.Context, file Upload) (*Artifact, error) {
	resp, err := c.postMultipart(ctx, PathStripMetadata, file, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readArtifact(resp)
}

// Verify extracts and checks the ownership mark of an image
func (c *Client) Verify(ctx context.Context, file Upload) (*VerifyResult, error) {
	obj, err := c.postMultipartJSON(ctx, PathVerify, file, nil)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Found:        fieldBool(obj, "watermark_found"),
		OwnerID:      "Unknown",
		MatchRatio:   fieldFloat(obj, "match_ratio"),
		Confidence:   clamp(fieldFloat(obj, "confidence"), 0, 100),
		TamperStatus: fieldString(obj, "tamper_status"),
	}
	if owner := fieldString(obj, "owner_id"); owner != "" {
		result.OwnerID = owner
	}
	// The service reports "Unknown" when nothing could be extracted.
	if text := fieldString(obj, "extracted_text"); text != "" && text != "Unknown" {
		result.ExtractedText = &text
	}
	return result, nil
}

// DetectTampering analyzes an image for watermark removal artifacts
func (c *Client) DetectTampering(ctx context.Context, file Upload, mode DetectMode) (*DetectionReport, error) {
	if mode == "" {
		mode = DetectFull
	}
	obj, err := c.postMultipartJSON(ctx, PathDetectTampering, file, [][2]string{{"mode", string(mode)}})
	if err != nil {
		return nil, err
	}

	// The report is nested under detection_report; accept a flat body too.
	var nested map[string]json.RawMessage
	if raw, ok := obj["detection_report"]; ok && json.Unmarshal(raw, &nested) == nil {
		obj = nested
	}

	return &DetectionReport{
		OverallTamperingConfidence: clamp(fieldFloat(obj, "overall_tampering_confidence"), 0, 100),
		ConfidenceLevel:            fieldString(obj, "confidence_level"),
		LikelyRemoved:              fieldBool(obj, "likely_removed"),
		DetectedTechniques:         fieldStrings(obj, "detected_techniques"),
		ForensicExplanation:        fieldString(obj, "forensic_explanation"),
		TechnicalSummary:           fieldString(obj, "technical_summary"),
	}, nil
}

// Forensics runs only the rule-based artifact checks, without the ML model
func (c *Client) Forensics(ctx context.Context, file Upload) (*ForensicsReport, error) {
	obj, err := c.postMultipartJSON(ctx, PathForensics, file, nil)
	if err != nil {
		return nil, err
	}

	report := &ForensicsReport{OverallConfidence: clamp(fieldFloat(obj, "overall_confidence"), 0, 100)}

	var artifacts map[string]map[string]json.RawMessage
	if raw, ok := obj["artifacts"]; ok && json.Unmarshal(raw, &artifacts) == nil {
		for name, a := range artifacts {
			kind := fieldString(a, "artifact_type")
			if kind == "" {
				kind = name
			}
			report.Artifacts = append(report.Artifacts, ForensicArtifact{
				Type:                     kind,
				Confidence:               clamp(fieldFloat(a, "confidence"), 0, 100),
				Description:              fieldString(a, "description"),
				AffectedRegionPercentage: clamp(fieldFloat(a, "affected_region_percentage"), 0, 100),
			})
		}
		sort.Slice(report.Artifacts, func(i, j int) bool {
			return report.Artifacts[i].Confidence > report.Artifacts[j].Confidence
		})
	}

	var dims []int
	if raw, ok := obj["image_dimensions"]; ok && json.Unmarshal(raw, &dims) == nil && len(dims) == 2 {
		report.Width, report.Height = dims[0], dims[1]
	}
	return report, nil
}

// RegistryConfig fetches the registry contract address and ABI
func (c *Client) RegistryConfig(ctx context.Context) (*RegistryConfig, error) {
	obj, err := c.getJSON(ctx, PathRegistryConfig)
	if err != nil {
		return nil, err
	}

	cfg := &RegistryConfig{ContractAddress: fieldString(obj, "contract_address")}
	if raw, ok := obj["abi"]; ok && string(raw) != "null" {
		cfg.ABI = raw
	}
	return cfg, nil
}

// Health checks that the service is up
func (c *Client) Health(ctx context.Context) (*Health, error) {
	obj, err := c.getJSON(ctx, PathHealth)
	if err != nil {
		return nil, err
	}
	return &Health{Status: fieldString(obj, "status"), Message: fieldString(obj, "message")}, nil
}

// VerifyToken asks the service whether the client's token is accepted.
// ErrTokenCheckUnsupported means the service exposes no token endpoint.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	obj, err := c.getJSON(ctx, PathVerifyToken)
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			switch svcErr.Status {
			case http.StatusUnauthorized, http.StatusForbidden:
				return false, nil
			case http.StatusNotFound, http.StatusMethodNotAllowed:
				return false, ErrTokenCheckUnsupported
			}
		}
		return false, err
	}

	if raw, ok := obj["valid"]; ok {
		var valid bool
		if json.Unmarshal(raw, &valid) == nil {
			return valid, nil
		}
	}
	return true, nil
}

// APIVersion returns the version advertised in the service's OpenAPI document
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	obj, err := c.getJSON(ctx, PathOpenAPI)
	if err != nil {
		return "", err
	}
	var info map[string]json.RawMessage
	if err := json.Unmarshal(obj["info"], &info); err != nil {
		return "", fmt.Errorf("%w: openapi document has no info", ErrMalformedResponse)
	}
	return fieldString(info, "version"), nil
}

// PublicLookup returns the stored metadata of a watermark id
func (c *Client) PublicLookup(ctx context.Context, watermarkID string) (*PublicRecord, error) {
	obj, err := c.getJSON(ctx, PathPublicLookup+url.PathEscape(watermarkID))
	if err != nil {
		return nil, err
	}
	return &PublicRecord{
		WatermarkID: fieldString(obj, "watermark_id"),
		OwnerID:     fieldString(obj, "owner_id"),
		ImageHash:   fieldString(obj, "image_hash"),
		Strength:    int(fieldFloat(obj, "strength")),
		CreatedAt:   fieldString(obj, "created_at"),
	}, nil
}

// VerifyOnChain asks the service to extract the mark and look up its ledger owner
func (c *Client) VerifyOnChain(ctx context.Context, file Upload) (*OnChainVerification, error) {
	obj, err := c.postMultipartJSON(ctx, PathVerifyOnChain, file, nil)
	if err != nil {
		return nil, err
	}
	return &OnChainVerification{
		Found:       fieldBool(obj, "found"),
		WatermarkID: fieldString(obj, "watermark_id"),
		MatchRatio:  fieldFloat(obj, "match_ratio"),
		OnChain:     fieldBool(obj, "onchain"),
		Owner:       fieldString(obj, "owner"),
		Timestamp:   int64(fieldFloat(obj, "timestamp")),
		Message:     fieldString(obj, "message"),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readJSON(resp)
}

func (c *Client) postMultipartJSON(ctx context.Context, path string, file Upload, fields [][2]string) (map[string]json.RawMessage, error) {
	resp, err := c.postMultipart(ctx, path, file, fields)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readJSON(resp)
}

// postMultipart sends file plus form fields and returns a successful response.
// The caller closes the body.
func (c *Client) postMultipart(ctx context.Context, path string, file Upload, fields [][2]string) (*http.Response, error) {
	body, contentType, err := encodeMultipart(file, fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, &NetworkError{Cause: err}
		}
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &ServiceError{Status: resp.StatusCode}
	}
	return &ServiceError{Status: resp.StatusCode, Body: string(body)}
}

func encodeMultipart(file Upload, fields [][2]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := file.Name
	if name == "" {
		name = "upload"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": name,
	}))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func readArtifact(resp *http.Response) (*Artifact, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	artifact := &Artifact{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			artifact.Filename = params["filename"]
		}
	}
	return artifact, nil
}

func readJSON(resp *http.Response) (map[string]json.RawMessage, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, nil
}
