package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-1.5-flash"
	DefaultTemperature   = 0.7

	noResponseText = "No response from Gemini"
	maxErrorBody   = 64 << 10
	maxResponse    = 8 << 20
)

// Content is one role-tagged entry of a generateContent request.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is either inline text or an inline image.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ResultKind tells callers whether a generation produced model output.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultEmpty
	ResultHTTPError
	ResultTransportError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultEmpty:
		return "empty"
	case ResultHTTPError:
		return "http_error"
	case ResultTransportError:
		return "transport_error"
	}
	return "unknown"
}

// GenerateResult is the outcome of one generateContent call.
type GenerateResult struct {
	Kind       ResultKind
	Text       string // model output, or the raw error body for ResultHTTPError
	StatusCode int
	Err        error
}

func (r GenerateResult) OK() bool { return r.Kind == ResultOK }

// Display renders the result as the text shown to the user.
func (r GenerateResult) Display() string {
	switch r.Kind {
	case ResultOK:
		return r.Text
	case ResultEmpty:
		return noResponseText
	case ResultHTTPError:
		return fmt.Sprintf("API error: %d - %s", r.StatusCode, r.Text)
	default:
		return fmt.Sprintf("API error: %v", r.Err)
	}
}

// Generator sends contents to a generative model. Implementations never fail
// past this boundary; failures are reported through the result kind.
type Generator interface {
	Generate(ctx context.Context, contents []Content) GenerateResult
}

// GeminiOptions configure both transports. Temperature is sent as given, zero
// included; GEMINI_TEMPERATURE defaults to DefaultTemperature in config.
type GeminiOptions struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	Temperature     float32
	MaxOutputTokens int32
}

// GeminiClient talks to the generateContent REST endpoint.
type GeminiClient struct {
	http     *http.Client
	endpoint string
	apiKey   string
	genCfg   GenerationConfig
	logger   *zap.SugaredLogger
	metrics  *Metrics
}

func NewGeminiClient(opts GeminiOptions, logger *zap.SugaredLogger, metrics *Metrics) *GeminiClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGeminiBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &GeminiClient{
		http:     &http.Client{Timeout: opts.Timeout},
		endpoint: fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(opts.BaseURL, "/"), opts.Model),
		apiKey:   opts.APIKey,
		genCfg: GenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (c *GeminiClient) Generate(ctx context.Context, contents []Content) GenerateResult {
	started := time.Now()
	res := c.generate(ctx, contents)
	c.metrics.observeGeneration(res.Kind, time.Since(started))

	if !res.OK() {
		c.logger.Warnw("Gemini request failed",
			"kind", res.Kind.String(), "status", res.StatusCode, "error", res.Err, "took", time.Since(started).String())
	} else {
		c.logger.Debugw("Gemini request completed", "took", time.Since(started).String(), "chars", len(res.Text))
	}
	return res
}

func (c *GeminiClient) generate(ctx context.Context, contents []Content) GenerateResult {
	body, err := json.Marshal(generateRequest{Contents: contents, GenerationConfig: c.genCfg})
	if err != nil {
		return GenerateResult{Kind: ResultTransportError, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	q := url.Values{}
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return GenerateResult{Kind: ResultTransportError, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return GenerateResult{Kind: ResultTransportError, Err: redactKey(err, c.apiKey)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return GenerateResult{
			Kind:       ResultHTTPError,
			StatusCode: resp.StatusCode,
			Text:       strings.TrimSpace(string(b)),
			Err:        fmt.Errorf("gemini returned status %d", resp.StatusCode),
		}
	}

	var gr generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&gr); err != nil {
		return GenerateResult{Kind: ResultTransportError, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(gr.Candidates) == 0 {
		return GenerateResult{Kind: ResultEmpty, StatusCode: resp.StatusCode}
	}

	var text strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return GenerateResult{Kind: ResultOK, StatusCode: resp.StatusCode, Text: text.String()}
}

// redactKey keeps the API key out of transport errors, which embed the request URL.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	msg := err.Error()
	redacted := strings.NewReplacer(url.QueryEscape(key), "REDACTED", key, "REDACTED").Replace(msg)
	if redacted == msg {
		return err
	}
	return fmt.Errorf("%s", redacted)
}
