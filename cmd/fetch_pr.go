package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/snapshot"
)

// FetchPRCommand returns the fetch-pr command
func FetchPRCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch-pr",
		Usage:     "Print the conflict document of a pull request",
		ArgsUsage: "<owner/repo> <pr_number>",
		Flags:     hostFlags(),
		Action:    runFetchPR,
	}
}

func runFetchPR(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()
	ctx := rt.context(c.Context)

	snap, err := rt.buildSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request: %w", err)
	}

	data, err := snapshot.NewDocument(snap).JSON()
	if err != nil {
		return err
	}
	rt.capture.WriteBlob("document", "json", data)
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}
