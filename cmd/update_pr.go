package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/llm"
	"github.com/prmerge/pkg/models"
)

// UpdatePRCommand returns the update-pr command
func UpdatePRCommand() *cli.Command {
	return &cli.Command{
		Name:      "update-pr",
		Usage:     "Commit model output to the pull request branch",
		ArgsUsage: "<owner/repo> <pr_number> <llm_output_json|@file|->",
		Flags:     append(hostFlags(), writeFlags()...),
		Action:    runUpdatePR,
	}
}

func runUpdatePR(c *cli.Context) error {
	if c.NArg() < 3 {
		return models.Newf(models.ErrConfig, "update-pr", "missing required arguments: <owner/repo> <pr_number> <llm_output_json>")
	}
	raw, err := readModelOutput(c, c.Args().Get(2))
	if err != nil {
		return err
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()
	ctx := rt.context(c.Context)

	// Nothing touches the host until the output has parsed
	edits, err := llm.ParseEdits(raw, rt.log.Logger)
	if err != nil {
		return err
	}
	if err := rt.checkEdits(nil, edits); err != nil {
		return err
	}

	pr, err := rt.host.GetPullRequest(ctx, rt.repo, rt.number)
	if err != nil {
		return models.Wrap(models.ErrFatalFetch, "get pull request", err)
	}

	scanner, err := createScanner(rt.cfg)
	if err != nil {
		return err
	}
	if scanner != nil {
		head, err := rt.headRevisions(ctx, pr, edits)
		if err != nil {
			return err
		}
		if err := rt.scanEdits(scanner, head, edits); err != nil {
			return err
		}
	}

	res, err := rt.applyEdits(ctx, pr, edits, c.String("mode"), c.String("onto"))
	if err != nil {
		return fmt.Errorf("failed to update pull request: %w", err)
	}
	return printJSON(c.App.Writer, summarize(res))
}
