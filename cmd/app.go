package cmd

import (
	"github.com/urfave/cli/v2"
)

// NewApp builds the prmerge command line application
func NewApp(version string) *cli.App {
	return &cli.App{
		Name:    "prmerge",
		Usage:   "Resolve pull request merge conflicts with an LLM and commit the result",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default ./prmerge.toml or ~/.prmerge.toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` first",
			},
		},
		Commands: []*cli.Command{
			FetchPRCommand(),
			UpdatePRCommand(),
			ResolveCommand(),
			ConfigCommand(),
		},
	}
}
