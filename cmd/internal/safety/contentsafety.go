package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIVersion = "2024-09-01"
	maxResponseBytes  = 1 << 20
	attackUserPrompt  = "User Prompt Injection"
	attackDocument    = "Document Injection"
)

// DefaultCategories are the content-policy categories analyzed by default.
var DefaultCategories = []string{"Hate", "SelfHarm", "Sexual", "Violence"}

// ContentSafetyClient calls an Azure AI Content Safety compatible REST endpoint.
// It implements both InjectionClassifier (Prompt Shields) and ContentClassifier (text analyze).
type ContentSafetyClient struct {
	endpoint   string
	key        string
	apiVersion string
	categories []string
	http       *http.Client
}

// ClientOption configures a ContentSafetyClient.
type ClientOption func(*ContentSafetyClient)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cs *ContentSafetyClient) {
		if c != nil {
			cs.http = c
		}
	}
}

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(v string) ClientOption {
	return func(cs *ContentSafetyClient) {
		if v = strings.TrimSpace(v); v != "" {
			cs.apiVersion = v
		}
	}
}

// NewContentSafetyClient validates endpoint and key.
func NewContentSafetyClient(endpoint, key string, opts ...ClientOption) (*ContentSafetyClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("safety: invalid endpoint %q", endpoint)
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("safety: missing key")
	}
	c := &ContentSafetyClient{
		endpoint:   endpoint,
		key:        strings.TrimSpace(key),
		apiVersion: defaultAPIVersion,
		categories: DefaultCategories,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type shieldPromptRequest struct {
	UserPrompt string   `json:"userPrompt"`
	Documents  []string `json:"documents"`
}

type shieldPromptResponse struct {
	UserPromptAnalysis *struct {
		AttackDetected bool `json:"attackDetected"`
	} `json:"userPromptAnalysis"`
	DocumentsAnalysis []struct {
		AttackDetected bool `json:"attackDetected"`
	} `json:"documentsAnalysis"`
}

// DetectInjection calls text:shieldPrompt.
func (c *ContentSafetyClient) DetectInjection(ctx context.Context, text string) (InjectionResult, error) {
	var resp shieldPromptResponse
	if err := c.post(ctx, "text:shieldPrompt", shieldPromptRequest{UserPrompt: text, Documents: []string{}}, &resp); err != nil {
		return InjectionResult{}, err
	}
	if resp.UserPromptAnalysis == nil {
		return InjectionResult{}, errors.New("safety: shieldPrompt response missing userPromptAnalysis")
	}
	if resp.UserPromptAnalysis.AttackDetected {
		return InjectionResult{Detected: true, AttackType: attackUserPrompt}, nil
	}
	for _, d := range resp.DocumentsAnalysis {
		if d.AttackDetected {
			return InjectionResult{Detected: true, AttackType: attackDocument}, nil
		}
	}
	return InjectionResult{}, nil
}

type analyzeRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	OutputType string   `json:"outputType"`
}

type analyzeResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// AnalyzeContent calls text:analyze.
func (c *ContentSafetyClient) AnalyzeContent(ctx context.Context, text string) ([]CategoryScore, error) {
	var resp analyzeResponse
	req := analyzeRequest{Text: text, Categories: c.categories, OutputType: "FourSeverityLevels"}
	if err := c.post(ctx, "text:analyze", req, &resp); err != nil {
		return nil, err
	}
	out := make([]CategoryScore, 0, len(resp.CategoriesAnalysis))
	for _, ca := range resp.CategoriesAnalysis {
		out = append(out, CategoryScore{Category: ca.Category, Severity: ca.Severity})
	}
	return out, nil
}

// APIError is a non-2xx response from the classifier service.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("safety: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (c *ContentSafetyClient) post(ctx context.Context, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	u := c.endpoint + "/contentsafety/" + op + "?api-version=" + url.QueryEscape(c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("safety: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("safety: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &APIError{Op: op, Status: resp.StatusCode, Body: snippet}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("safety: %s: decode: %w", op, err)
	}
	return nil
}
