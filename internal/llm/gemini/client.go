package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vivacli/viva/internal/llm"
	"github.com/vivacli/viva/internal/logger"
	"github.com/vivacli/viva/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultEmbedModel = "text-embedding-004"
	defaultMaxRetries = 3

	// Quota errors advertising a pause longer than this are not worth waiting out.
	maxQuotaDelay = 30 * time.Second
)

var sleep = time.Sleep

var quotaDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in)\s+(\d+(?:\.\d+)?)`)

// modelCaller is the slice of the GenAI model API the client depends on.
type modelCaller interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client talks to the Gemini API for text completions and embeddings.
// Transient failures are retried with exponential backoff.
type Client struct {
	models     modelCaller
	model      string
	embedModel string
	maxRetries int
	backoff    utils.Backoff
	logger     *zap.Logger
}

// Config carries the knobs needed to construct a Client.
type Config struct {
	APIKey     string
	Model      string
	EmbedModel string
	MaxRetries int
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		models:     client.Models,
		model:      model,
		embedModel: embedModel,
		maxRetries: maxRetries,
		backoff:    utils.Backoff{Base: 500 * time.Millisecond, Max: 8 * time.Second, Jitter: 0.2},
		logger:     logger.WithCommonFields(log, "gemini", model),
	}, nil
}

// Complete sends the prompt to Gemini and returns the concatenated textual response.
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if c == nil || c.models == nil {
		return "", errors.New("gemini client is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = c.model
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	var output string
	err := c.withRetries(ctx, "generate content", func() error {
		resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), config)
		if err != nil {
			return err
		}

		output = collectText(resp)
		if output == "" {
			return errors.New("gemini api returned empty response")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return output, nil
}

// EmbedTexts returns one embedding vector per input text, in input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil || c.models == nil {
		return nil, errors.New("gemini client is not initialized")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		})
	}

	var vectors [][]float32
	err := c.withRetries(ctx, "embed content", func() error {
		resp, err := c.models.EmbedContent(ctx, c.embedModel, contents, nil)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("gemini api returned %d embeddings for %d texts", embeddingCount(resp), len(texts))
		}

		vectors = make([][]float32, len(resp.Embeddings))
		for i, embedding := range resp.Embeddings {
			if embedding == nil || len(embedding.Values) == 0 {
				return fmt.Errorf("gemini api returned empty embedding at index %d", i)
			}
			vectors[i] = embedding.Values
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	return vectors, nil
}

// Model returns the configured completion model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

func (c *Client) withRetries(ctx context.Context, operation string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying gemini call",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			sleep(c.backoff.Delay(attempt - 1))
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.maxRetries, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			if delay, ok := quotaDelay(apiErr.Message); ok && delay > maxQuotaDelay {
				return false
			}
			return true
		}
		return apiErr.Code >= http.StatusInternalServerError
	}

	return true
}

// quotaDelay extracts the advertised wait from a quota error message.
func quotaDelay(message string) (time.Duration, bool) {
	match := quotaDelayPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}
