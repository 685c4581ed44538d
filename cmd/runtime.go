package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/aiconnectors"
	"github.com/prmerge/internal/batch"
	"github.com/prmerge/internal/capture"
	"github.com/prmerge/internal/config"
	"github.com/prmerge/internal/llm"
	"github.com/prmerge/internal/logging"
	"github.com/prmerge/internal/providers"
	"github.com/prmerge/internal/providers/github"
	"github.com/prmerge/internal/providers/gitlocal"
	"github.com/prmerge/internal/retry"
	"github.com/prmerge/internal/secrets"
	"github.com/prmerge/pkg/models"
	"github.com/prmerge/pkg/shared"
)

// runtime holds everything one command invocation needs. It is built once in the action and
// passed down.
type runtime struct {
	cfg    *config.Config
	log    *logging.RunLogger
	host   providers.Host
	pool   *batch.Pool
	repo   providers.RepoRef
	number int
	// capture is nil unless --capture-dir is set
	capture *capture.Recorder
}

func hostFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Override the code host to use (github or local)",
		},
		&cli.StringFlag{
			Name:  "repo-path",
			Usage: "Repository directory for the local provider",
		},
		&cli.StringFlag{
			Name:  "base",
			Usage: "Base branch for the local provider",
		},
		&cli.StringFlag{
			Name:  "head",
			Usage: "Head branch for the local provider",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Also write a run log with prompts and responses to `DIR`",
		},
		&cli.StringFlag{
			Name:  "capture-dir",
			Usage: "Record the snapshot document, request and resolution under `DIR` for replay",
		},
	}
}

// newRuntime loads the environment and config, and creates the logger and host. Arguments are
// <repo> <pr_number>.
func newRuntime(c *cli.Context) (*runtime, error) {
	if c.NArg() < 2 {
		return nil, models.Newf(models.ErrConfig, c.Command.Name, "missing required arguments: <owner/repo> <pr_number>")
	}
	repo, err := providers.ParseRepo(c.Args().Get(0))
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, c.Command.Name, err)
	}
	number, err := strconv.Atoi(c.Args().Get(1))
	if err != nil || number <= 0 {
		return nil, models.Newf(models.ErrConfig, c.Command.Name, "invalid pull request number %q", c.Args().Get(1))
	}

	if envFile := c.String("env-file"); envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return nil, models.Wrap(models.ErrConfig, "load env file", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(logging.Options{
		Verbose: c.Bool("verbose"),
		Dir:     c.String("log-dir"),
		Console: c.App.ErrWriter,
	})
	if err != nil {
		return nil, err
	}

	providerName := cfg.General.DefaultProvider
	if override := c.String("provider"); override != "" {
		providerName = override
	}

	host, err := createHost(c, providerName, cfg, number, log.Logger)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	recorder, err := capture.New(c.String("capture-dir"), log.RunID, log.Logger)
	if err != nil {
		log.Close()
		return nil, err
	}

	log.Logger.Debug().Str("provider", host.Name()).Str("repo", repo.String()).Int("pr", number).Msg("Runtime ready")
	return &runtime{
		cfg:     cfg,
		log:     log,
		host:    host,
		pool:    batch.NewPool(cfg.PoolConfig()),
		repo:    repo,
		number:  number,
		capture: recorder,
	}, nil
}

func (rt *runtime) context(parent context.Context) context.Context {
	return rt.log.WithContext(parent)
}

func (rt *runtime) close() {
	rt.log.Close()
}

func createHost(c *cli.Context, name string, cfg *config.Config, number int, logger zerolog.Logger) (providers.Host, error) {
	pc := cfg.Provider(name)
	switch name {
	case "github":
		creds := shared.VCSCredentials{Provider: name, Token: pc.Token, BaseURL: pc.BaseURL}
		if creds.Token == "" {
			_, creds.Token = GitHubToken()
		}
		if !creds.Valid() {
			return nil, models.Newf(models.ErrConfig, "github", "no token: set GITHUB_TOKEN, GITHUB_PAT or providers.github.token")
		}
		return github.New(github.GitHubConfig{
			Token:             creds.Token,
			BaseURL:           creds.BaseURL,
			Timeout:           config.Timeout(pc.TimeoutSeconds, 30*time.Second),
			RequestsPerSecond: pc.RequestsPerSecond,
			Logger:            logger,
		})
	case "local":
		path := c.String("repo-path")
		if path == "" {
			path = pc.RepoPath
		}
		if path == "" {
			return nil, models.Newf(models.ErrConfig, "local", "--repo-path is required")
		}
		base, head := c.String("base"), c.String("head")
		if base == "" || head == "" {
			return nil, models.Newf(models.ErrConfig, "local", "--base and --head are required")
		}
		host, err := gitlocal.Open(path)
		if err != nil {
			return nil, err
		}
		if err := host.RegisterPullRequest(gitlocal.PullRequestSpec{Number: number, Base: base, Head: head}); err != nil {
			return nil, models.Wrap(models.ErrConfig, "local", err)
		}
		return host, nil
	default:
		return nil, models.Newf(models.ErrConfig, "create provider", "unsupported provider: %s", name)
	}
}

// connectorOptions builds the completion backend options from config, falling back to the
// backend's environment variable for the key
func connectorOptions(name string, cfg *config.Config) (aiconnectors.ConnectorOptions, error) {
	provider, err := aiconnectors.ParseProvider(name)
	if err != nil {
		return aiconnectors.ConnectorOptions{}, models.Wrap(models.ErrConfig, "create AI provider", err)
	}
	ac, ok := cfg.AI[name]
	if !ok {
		ac = cfg.AIFor(string(provider))
	}
	key := ac.APIKey
	if key == "" {
		key = os.Getenv(aiKeyVars[string(provider)])
	}
	if key == "" && provider != aiconnectors.ProviderOllama {
		return aiconnectors.ConnectorOptions{}, models.Newf(models.ErrConfig, "create AI provider",
			"no api key for %s (set ai.%s.api_key or %s)", provider, provider, aiKeyVars[string(provider)])
	}
	return aiconnectors.ConnectorOptions{
		Provider: provider,
		APIKey:   key,
		BaseURL:  ac.BaseURL,
		ModelConfig: aiconnectors.ModelConfig{
			Model:       ac.Model,
			Temperature: ac.Temperature,
			MaxTokens:   ac.MaxTokens,
		},
	}, nil
}

// createClient builds the completion client. It sends one request per resolution unless
// ai.<name>.retries is set.
func createClient(ctx context.Context, name string, cfg *config.Config, log *logging.RunLogger) (*llm.Client, error) {
	opts, err := connectorOptions(name, cfg)
	if err != nil {
		return nil, err
	}
	connector, err := aiconnectors.NewConnector(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	ac, ok := cfg.AI[name]
	if !ok {
		ac = cfg.AIFor(string(opts.Provider))
	}
	client := llm.NewClient(connector, config.Timeout(ac.TimeoutSeconds, 3*time.Minute), log)
	client.Model = connector.GetModel()
	client.MaxTokens = ac.MaxTokens
	client.Retry = clientRetry(ac)
	return client, nil
}

// clientRetry returns nil unless ai.<name>.retries asks for resends
func clientRetry(ac config.AIConfig) *retry.RetryConfig {
	if ac.Retries <= 0 {
		return nil
	}
	rc := retry.LLMRetryConfig()
	rc.MaxRetries = ac.Retries
	return &rc
}

// createScanner returns nil when secret scanning is disabled
func createScanner(cfg *config.Config) (*secrets.Scanner, error) {
	if !cfg.Safety.SecretScan {
		return nil, nil
	}
	return secrets.NewScanner(cfg.Safety.BlockOnSecret)
}
