package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	LowModel    string
	HighModel   string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type OpenAIGenerator struct {
	baseURL     string
	apiKey      string
	lowModel    string
	highModel   string
	temperature float64
	timeout     time.Duration
	client      *http.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	lowModel := strings.TrimSpace(cfg.LowModel)
	if lowModel == "" {
		lowModel = "gpt-4o-mini"
	}
	highModel := strings.TrimSpace(cfg.HighModel)
	if highModel == "" {
		highModel = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIGenerator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		lowModel:    lowModel,
		highModel:   highModel,
		temperature: cfg.Temperature,
		timeout:     timeout,
		client:      client,
	}, nil
}

func (g *OpenAIGenerator) Model(tier Tier) string {
	if tier == TierHigh {
		return g.highModel
	}
	return g.lowModel
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Plan, error) {
	model := g.Model(req.Tier)
	body, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    BuildMessages(req),
		"temperature": g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(callCtx, err) {
			return nil, fmt.Errorf("%w: model=%s after %s", ErrModelTimeout, model, g.timeout)
		}
		return nil, &GenerationError{Model: model, Err: fmt.Errorf("request chat completion: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(callCtx, err) {
			return nil, fmt.Errorf("%w: model=%s after %s", ErrModelTimeout, model, g.timeout)
		}
		return nil, &GenerationError{Model: model, Err: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &GenerationError{Model: model, Err: fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return nil, &GenerationError{Model: model, Err: fmt.Errorf("decode chat completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &GenerationError{Model: model, Err: errors.New("empty chat completion choices")}
	}
	return ParseReply(parsed.Choices[0].Message.Content)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
