// Package llm adapts external reasoning services behind the Reasoner
// capability. The client is multi-provider (OpenAI or Gemini) and degrades
// to disabled when no key is configured; callers must check Enabled and
// skip reasoner-backed work rather than fail.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	hydraerr "github.com/hydrasec/hydra/internal/errors"
)

// Reasoner is the capability the pipelines consume: a system+user prompt in,
// text out. CompleteJSON asks the provider for a JSON response where the
// provider supports forcing one.
type Reasoner interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider identifies the backing reasoning service
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// Config carries provider selection and keys. Zero keys yield a disabled
// client.
type Config struct {
	Provider    string
	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string
	RateLimit   float64 // requests per second across both endpoints
	CachePath   string  // optional bbolt response cache; "" disables
}

// Client is the production Reasoner. Calls are rate limited and optionally
// replayed from a content-addressed response cache.
type Client struct {
	provider Provider
	openai   *openAIProvider
	gemini   *geminiProvider
	limiter  *rate.Limiter
	cache    *responseCache
	logger   *slog.Logger
}

// New builds the reasoner client. Provider priority: explicit config, then
// whichever key is present (OpenAI first). Without keys the client is
// disabled, never an error.
func New(ctx context.Context, cfg Config) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	c := &Client{
		provider: ProviderNone,
		logger:   logger,
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 2
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)

	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			logger.Warn("openai provider selected but no key configured, reasoner disabled")
			return c, nil
		}
		c.provider = ProviderOpenAI
		c.openai = newOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel)
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			logger.Warn("gemini provider selected but no key configured, reasoner disabled")
			return c, nil
		}
		g, err := newGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini provider: %w", err)
		}
		c.provider = ProviderGemini
		c.gemini = g
	case ProviderNone, Provider(""):
		switch {
		case cfg.OpenAIKey != "":
			c.provider = ProviderOpenAI
			c.openai = newOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel)
		case cfg.GeminiKey != "":
			g, err := newGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel)
			if err != nil {
				return nil, fmt.Errorf("initializing gemini provider: %w", err)
			}
			c.provider = ProviderGemini
			c.gemini = g
		default:
			logger.Info("no reasoner key configured, running deterministic scanners only")
			return c, nil
		}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	if cfg.CachePath != "" {
		cache, err := openResponseCache(cfg.CachePath)
		if err != nil {
			logger.Warn("llm response cache unavailable", "path", cfg.CachePath, "error", err)
		} else {
			c.cache = cache
		}
	}

	logger.Info("reasoner initialized", "provider", c.provider)
	return c, nil
}

// Enabled reports whether a provider is configured
func (c *Client) Enabled() bool {
	return c.provider != ProviderNone
}

// ProviderName returns the active provider
func (c *Client) ProviderName() Provider {
	return c.provider
}

// Complete sends a prompt to the active provider
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, false)
}

// CompleteJSON sends a prompt requesting a JSON-shaped response
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, true)
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, wantJSON bool) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("reasoner is not configured")
	}

	key := cacheKey(string(c.provider), c.modelName(), systemPrompt, userPrompt, wantJSON)
	if c.cache != nil {
		if text, ok := c.cache.get(key); ok {
			c.logger.Debug("reasoner cache hit")
			return text, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var text string
	var err error
	switch c.provider {
	case ProviderOpenAI:
		text, err = c.openai.complete(ctx, systemPrompt, userPrompt, wantJSON)
	case ProviderGemini:
		text, err = c.gemini.complete(ctx, systemPrompt, userPrompt, wantJSON)
	default:
		return "", fmt.Errorf("reasoner is not configured")
	}
	if err != nil {
		return "", hydraerr.ReasonerErrorf(err, "%s completion failed", c.provider)
	}

	if c.cache != nil {
		c.cache.put(key, text)
	}
	return text, nil
}

func (c *Client) modelName() string {
	switch c.provider {
	case ProviderOpenAI:
		return c.openai.model
	case ProviderGemini:
		return c.gemini.model
	default:
		return ""
	}
}

// Close releases the response cache
func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.close()
	}
	return nil
}

func cacheKey(provider, model, systemPrompt, userPrompt string, wantJSON bool) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%t|%s|%s", provider, model, wantJSON, systemPrompt, userPrompt)))
	return []byte(hex.EncodeToString(sum[:]))
}
