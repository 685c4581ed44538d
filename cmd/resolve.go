package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/llm"
	"github.com/prmerge/internal/prompts"
	"github.com/prmerge/internal/snapshot"
	"github.com/prmerge/pkg/models"
)

// ResolveCommand returns the resolve command
func ResolveCommand() *cli.Command {
	flags := append(hostFlags(), writeFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:    "ai",
			Aliases: []string{"a"},
			Usage:   "Override the AI provider to use",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"d"},
			Usage:   "Print the proposed edits without touching the branch",
		},
		&cli.IntFlag{
			Name:  "context-limit",
			Usage: "Truncate context files to `N` characters (0 keeps them whole)",
			Value: -1,
		},
	)
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Fetch a pull request, ask the model to resolve its conflicts and commit the result",
		ArgsUsage: "<owner/repo> <pr_number>",
		Flags:     flags,
		Action:    runResolve,
	}
}

// resolution has the shape update-pr accepts
type resolution struct {
	Files []models.ResolutionEdit `json:"files"`
}

type resolveOptions struct {
	DryRun       bool
	Mode         string
	Onto         string
	ContextLimit int
}

func runResolve(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()
	ctx := rt.context(c.Context)

	aiName := rt.cfg.General.DefaultAI
	if override := c.String("ai"); override != "" {
		aiName = override
	}
	client, err := createClient(ctx, aiName, rt.cfg, rt.log)
	if err != nil {
		return err
	}

	limit := rt.cfg.Prompt.ContextLimit
	if c.Int("context-limit") >= 0 {
		limit = c.Int("context-limit")
	}

	return rt.resolve(ctx, c.App.Writer, client, resolveOptions{
		DryRun:       c.Bool("dry-run"),
		Mode:         c.String("mode"),
		Onto:         c.String("onto"),
		ContextLimit: limit,
	})
}

// resolve runs snapshot, request, completion and write in order. Any failure before the write
// leaves the branch untouched.
func (rt *runtime) resolve(ctx context.Context, out io.Writer, client *llm.Client, opts resolveOptions) error {
	start := time.Now()
	rt.log.LogSection("SNAPSHOT")
	snap, err := rt.buildSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request: %w", err)
	}

	if len(snap.ConflictingPaths) == 0 {
		rt.log.Logger.Info().Int("files", len(snap.Files)).Msg("No diverging files, nothing to resolve")
		return printJSON(out, writeSummary{
			Mode: opts.Mode, Branch: snap.HeadRef, PreviousHead: snap.HeadSHA, Head: snap.HeadSHA,
			Commits: []string{}, Applied: []string{}, Skipped: []string{}, NoOp: true,
		})
	}
	rt.log.Logger.Info().Strs("paths", snap.ConflictingPaths).Msg("Resolving conflicts")
	rt.capture.WriteJSON("document", snapshot.NewDocument(snap))

	rt.log.LogSection("REQUEST")
	req, err := prompts.NewFormatter(opts.ContextLimit).Format(snap)
	if err != nil {
		return err
	}

	rt.capture.WriteJSON("request", req)

	edits, err := client.Resolve(ctx, req)
	if err != nil {
		return err
	}
	if err := rt.checkEdits(snap, edits); err != nil {
		return err
	}
	if path := rt.capture.WriteJSON("resolution", resolution{Files: edits}); path != "" {
		rt.log.Logger.Info().Str("path", path).Msg("Recorded resolution, replay with update-pr @" + path)
	}

	scanner, err := createScanner(rt.cfg)
	if err != nil {
		return err
	}
	if err := rt.scanEdits(scanner, snap, edits); err != nil {
		return err
	}

	if opts.DryRun {
		rt.log.Logger.Info().Int("edits", len(edits)).Dur("elapsed", time.Since(start)).Msg("Dry run, branch left untouched")
		return printJSON(out, resolution{Files: edits})
	}

	rt.log.LogSection("WRITE")
	prInfo, err := rt.host.GetPullRequest(ctx, rt.repo, rt.number)
	if err != nil {
		return models.Wrap(models.ErrFatalFetch, "get pull request", err)
	}
	if prInfo.HeadSHA != snap.HeadSHA {
		rt.log.Logger.Warn().Str("snapshot", snap.HeadSHA).Str("now", prInfo.HeadSHA).Msg("Head moved since the snapshot was taken")
	}

	res, err := rt.applyEdits(ctx, prInfo, edits, opts.Mode, opts.Onto)
	if err != nil {
		return fmt.Errorf("failed to update pull request: %w", err)
	}
	rt.log.Logger.Info().Dur("elapsed", time.Since(start)).Bool("no_op", res.NoOp).Msg("Resolution complete")
	return printJSON(out, summarize(res))
}
