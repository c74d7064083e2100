package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// SDKGenerator is a Generator backed by the Gemini Go SDK.
type SDKGenerator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
	logger  *zap.SugaredLogger
	metrics *Metrics
}

func NewSDKGenerator(ctx context.Context, opts GeminiOptions, logger *zap.SugaredLogger, metrics *Metrics) (*SDKGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(opts.Temperature)
	model.SetMaxOutputTokens(opts.MaxOutputTokens)

	return &SDKGenerator{
		client:  client,
		model:   model,
		timeout: opts.Timeout,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (g *SDKGenerator) Close() error {
	return g.client.Close()
}

func (g *SDKGenerator) Generate(ctx context.Context, contents []Content) GenerateResult {
	started := time.Now()
	res := g.generate(ctx, contents)
	g.metrics.observeGeneration(res.Kind, time.Since(started))
	if !res.OK() {
		g.logger.Warnw("Gemini SDK request failed", "kind", res.Kind.String(), "status", res.StatusCode, "error", res.Err)
	}
	return res
}

func (g *SDKGenerator) generate(ctx context.Context, contents []Content) GenerateResult {
	parts, err := toGenaiParts(contents)
	if err != nil {
		return GenerateResult{Kind: ResultTransportError, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return classifySDKError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return GenerateResult{Kind: ResultEmpty}
	}

	var text strings.Builder
	if cand := resp.Candidates[0]; cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return GenerateResult{Kind: ResultOK, StatusCode: 200, Text: text.String()}
}

// toGenaiParts flattens the contents into SDK parts. The SDK model call is
// single-turn, so roles are dropped.
func toGenaiParts(contents []Content) ([]genai.Part, error) {
	var parts []genai.Part
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
			if p.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("invalid inline data: %w", err)
				}
				parts = append(parts, genai.Blob{MIMEType: p.InlineData.MimeType, Data: data})
			}
		}
	}
	return parts, nil
}

func classifySDKError(err error) GenerateResult {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return GenerateResult{Kind: ResultHTTPError, StatusCode: gerr.Code, Text: strings.TrimSpace(body), Err: err}
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) && aerr.HTTPCode() > 0 {
		return GenerateResult{Kind: ResultHTTPError, StatusCode: aerr.HTTPCode(), Text: aerr.Error(), Err: err}
	}
	return GenerateResult{Kind: ResultTransportError, Err: err}
}
