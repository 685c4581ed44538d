package github

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v72/github"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/prmerge/internal/retry"
	"github.com/prmerge/pkg/models"
)

// GitHubConfig configures the GitHub host adapter
type GitHubConfig struct {
	Token             string
	BaseURL           string        // GitHub Enterprise URL; empty for github.com
	Timeout           time.Duration // per request
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Retry             *retry.RetryConfig
	Logger            zerolog.Logger
}

// New creates a GitHub host. A token is mandatory; its absence is a configuration error
// reported before any request is made.
func New(config GitHubConfig) (*GitHubProvider, error) {
	if strings.TrimSpace(config.Token) == "" {
		return nil, models.Newf(models.ErrConfig, "github", "token is required (set GITHUB_TOKEN)")
	}

	client := gh.NewClient(config.HTTPClient).WithAuthToken(config.Token)
	if config.BaseURL != "" && !strings.Contains(config.BaseURL, "api.github.com") && strings.TrimSuffix(config.BaseURL, "/") != "https://github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, models.Wrap(models.ErrConfig, "github", fmt.Errorf("invalid base_url: %w", err))
		}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	retryConfig := retry.HostRetryConfig()
	if config.Retry != nil {
		retryConfig = *config.Retry
	}

	return &GitHubProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		timeout: timeout,
		retry:   retryConfig,
		logger:  config.Logger.With().Str("host", "github").Logger(),
	}, nil
}
