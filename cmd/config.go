package cmd

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/aiconnectors"
	"github.com/prmerge/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "prmerge.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ping",
						Usage: "Also send a test request to the default AI provider",
					},
				},
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	check := CheckRequiredConfig(cfg.General.DefaultProvider, cfg.General.DefaultAI)
	if warning := modelWarning(cfg); warning != "" {
		check.Warnings = append(check.Warnings, warning)
	}
	PrintConfigCheck(c.App.Writer, check)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(check.Missing) > 0 && cfg.Provider(cfg.General.DefaultProvider).Token == "" {
		return fmt.Errorf("invalid configuration: missing %v", check.Missing)
	}

	if c.Bool("ping") {
		opts, err := connectorOptions(cfg.General.DefaultAI, cfg)
		if err != nil {
			return err
		}
		ok, err := aiconnectors.ValidateAPIKey(c.Context, opts)
		if err != nil {
			return fmt.Errorf("AI provider %s check failed: %w", opts.Provider, err)
		}
		if !ok {
			return fmt.Errorf("AI provider %s rejected the api key", opts.Provider)
		}
		fmt.Fprintf(c.App.Writer, "AI provider %s is reachable\n", opts.Provider)
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}

// modelWarning flags a configured model that is not among the known models of its provider
func modelWarning(cfg *config.Config) string {
	provider, err := aiconnectors.ParseProvider(cfg.General.DefaultAI)
	if err != nil {
		return ""
	}
	model := cfg.AIFor(cfg.General.DefaultAI).Model
	if model == "" || slices.Contains(aiconnectors.GetProviderModels(provider), model) {
		return ""
	}
	return fmt.Sprintf("model %s is not a known %s model, it will be sent as is", model, provider)
}
