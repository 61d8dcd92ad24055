package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"hwtutor/internal/domain"
	"hwtutor/internal/ports"
)

const (
	DefaultAnalysisModel = "gemini-3-pro-preview"
	DefaultImageModel    = "gemini-2.5-flash-image"
	DefaultVideoModel    = "veo-3.1-fast-generate-preview"
	DefaultPollInterval  = 5 * time.Second
)

// Config selects the models used for the request/response calls.
type Config struct {
	APIBaseURL    string
	AnalysisModel string
	ImageModel    string
	VideoModel    string
	PollInterval  time.Duration
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.AnalysisModel == "" {
		c.AnalysisModel = DefaultAnalysisModel
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.VideoModel == "" {
		c.VideoModel = DefaultVideoModel
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Provider implements the analysis, illustration and video ports. A fresh
// client is built for every call so a newly selected key takes effect.
type Provider struct {
	cfg         Config
	credentials ports.CredentialSource
}

func NewProvider(cfg Config, credentials ports.CredentialSource) *Provider {
	return &Provider{cfg: cfg.withDefaults(), credentials: credentials}
}

func (p *Provider) client(ctx context.Context) (*genai.Client, error) {
	key := p.credentials.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%w: no API key selected", domain.ErrCredentialInvalid)
	}

	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if p.cfg.APIBaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.APIBaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// classify tags credential failures so callers can reopen the selector.
func classify(op string, err error) error {
	if domain.IsCredentialFailure(err.Error()) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrCredentialInvalid, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
