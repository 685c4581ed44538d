package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/prmerge/internal/commitgraph"
	"github.com/prmerge/internal/conflict"
	"github.com/prmerge/internal/providers"
	"github.com/prmerge/internal/secrets"
	"github.com/prmerge/internal/snapshot"
	"github.com/prmerge/pkg/models"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

func writeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "How to update the branch: direct or rebase (default from config)",
		},
		&cli.StringFlag{
			Name:  "onto",
			Usage: "New base for rebase mode, a commit sha or branch (defaults to the base branch tip)",
		},
	}
}

func (rt *runtime) buildSnapshot(ctx context.Context) (*models.PRSnapshot, error) {
	builder := snapshot.NewBuilder(rt.host, rt.pool, rt.log.Logger)
	snap, err := builder.Build(ctx, rt.repo, rt.number)
	if err != nil {
		return nil, err
	}
	if len(snap.FetchFailures) > 0 {
		rt.log.Logger.Warn().Int("failures", len(snap.FetchFailures)).Msg("Some file revisions could not be fetched")
		for _, f := range snap.FetchFailures {
			rt.log.Logger.Warn().Str("path", f.Path).Str("side", f.Side).Str("kind", f.Kind).Msg(f.Message)
		}
	}
	return snap, nil
}

// readModelOutput resolves the output argument: "-" reads stdin, "@path" reads a file, anything
// else is the JSON itself
func readModelOutput(c *cli.Context, arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return "", fmt.Errorf("failed to read model output from stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", models.Wrap(models.ErrConfig, "read model output", err)
		}
		return string(data), nil
	}
	return arg, nil
}

// checkEdits refuses edits whose content still carries a full conflict block, unless
// safety.allow_conflict_markers is set. With a snapshot it also warns about edits to paths
// that had no conflict.
func (rt *runtime) checkEdits(snap *models.PRSnapshot, edits []models.ResolutionEdit) error {
	var conflicting map[string]struct{}
	if snap != nil {
		conflicting = snap.ConflictSet()
	}
	for _, edit := range edits {
		if conflict.ContainsMarkers(edit.Content) {
			if !rt.cfg.Safety.AllowConflictMarkers {
				return models.Newf(models.ErrMalformedModelOutput, "check edits", "%s still contains conflict markers", edit.Path)
			}
			rt.log.Logger.Warn().Str("path", edit.Path).Msg("Edit still contains conflict markers")
		}
		if conflicting == nil {
			continue
		}
		if _, ok := conflicting[edit.Path]; !ok {
			rt.log.Logger.Warn().Str("path", edit.Path).Msg("Edit touches a path without conflicts")
		}
	}
	return nil
}

// scanEdits runs the secret scanner when it is enabled
func (rt *runtime) scanEdits(scanner *secrets.Scanner, snap *models.PRSnapshot, edits []models.ResolutionEdit) error {
	if scanner == nil || len(edits) == 0 {
		return nil
	}
	findings, err := scanner.Check(edits, snap, rt.log.Logger)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		rt.log.Logger.Debug().Int("files", len(edits)).Msg("Secret scan clean")
	}
	return nil
}

// headRevisions fetches the head content of every edited path, for the secret scan when no
// snapshot has been built
func (rt *runtime) headRevisions(ctx context.Context, pr *providers.PullRequest, edits []models.ResolutionEdit) (*models.PRSnapshot, error) {
	snap := &models.PRSnapshot{Repo: rt.repo.String(), Number: pr.Number, HeadSHA: pr.HeadSHA}
	head := headRepo(rt.repo, pr)
	for _, edit := range edits {
		pair := models.FileRevisionPair{Path: edit.Path, Status: models.StatusModified}
		content, err := rt.host.GetFileContent(ctx, head, edit.Path, pr.HeadSHA)
		switch {
		case err == nil:
			pair.HeadContent = &content
		case errors.Is(err, providers.ErrNotFound):
			pair.Status = models.StatusAdded
		default:
			return nil, models.Wrap(models.ErrTransientFetch, "get head content", err)
		}
		snap.Files = append(snap.Files, pair)
	}
	return snap, nil
}

// applyEdits writes the edits to the pull request head branch in the requested mode
func (rt *runtime) applyEdits(ctx context.Context, pr *providers.PullRequest, edits []models.ResolutionEdit, modeFlag, onto string) (*commitgraph.Result, error) {
	if modeFlag == "" {
		modeFlag = rt.cfg.General.UpdateMode
	}
	mode, err := commitgraph.ParseMode(modeFlag)
	if err != nil {
		return nil, err
	}

	writer := commitgraph.NewWriter(rt.host, rt.pool, rt.log.Logger)
	if rt.cfg.General.CommitMessage != "" {
		writer.Message = rt.cfg.General.CommitMessage
	}
	target := headRepo(rt.repo, pr)

	if mode == commitgraph.ModeDirect {
		return writer.DirectApply(ctx, target, pr.HeadRef, edits)
	}

	newBase, err := rt.resolveBase(ctx, pr, onto)
	if err != nil {
		return nil, err
	}
	commits, err := rt.host.ListPullRequestCommits(ctx, rt.repo, rt.number)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "list pull request commits", err)
	}
	return writer.RebaseApply(ctx, target, pr.HeadRef, newBase, commits, edits)
}

// resolveBase turns --onto into a commit sha; empty means the current tip of the base branch
func (rt *runtime) resolveBase(ctx context.Context, pr *providers.PullRequest, onto string) (string, error) {
	if onto == "" {
		onto = pr.BaseRef
	}
	if shaPattern.MatchString(onto) {
		return onto, nil
	}
	sha, err := rt.host.GetBranchTip(ctx, rt.repo, onto)
	if err != nil {
		return "", models.Wrap(models.ErrFatalFetch, "resolve rebase base", err)
	}
	return sha, nil
}

func headRepo(repo providers.RepoRef, pr *providers.PullRequest) providers.RepoRef {
	if pr.HeadRepo.Owner == "" || pr.HeadRepo.Name == "" {
		return repo
	}
	return pr.HeadRepo
}

// writeSummary is the JSON printed after a write
type writeSummary struct {
	Mode         string   `json:"mode"`
	Branch       string   `json:"branch"`
	PreviousHead string   `json:"previous_head"`
	Head         string   `json:"head"`
	Commits      []string `json:"commits"`
	Applied      []string `json:"applied"`
	Skipped      []string `json:"skipped"`
	NoOp         bool     `json:"no_op"`
}

func summarize(res *commitgraph.Result) writeSummary {
	s := writeSummary{
		Mode:         string(res.Mode),
		Branch:       res.Branch,
		PreviousHead: res.PreviousHead,
		Head:         res.Head,
		Commits:      res.CommitSHAs,
		Applied:      res.Applied,
		Skipped:      res.Skipped,
		NoOp:         res.NoOp,
	}
	if s.Commits == nil {
		s.Commits = []string{}
	}
	if s.Applied == nil {
		s.Applied = []string{}
	}
	if s.Skipped == nil {
		s.Skipped = []string{}
	}
	return s
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
