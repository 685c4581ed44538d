// Package snapshot builds a normalized view of a pull request: metadata, both revisions of every
// changed file, and conflict text for files whose revisions diverge.
package snapshot

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/prmerge/internal/batch"
	"github.com/prmerge/internal/conflict"
	"github.com/prmerge/internal/providers"
	"github.com/prmerge/pkg/models"
)

// Builder fetches pull request data from a host
type Builder struct {
	Host   providers.Host
	Pool   *batch.Pool
	Logger zerolog.Logger
}

// NewBuilder creates a snapshot builder
func NewBuilder(host providers.Host, pool *batch.Pool, logger zerolog.Logger) *Builder {
	if pool == nil {
		pool = batch.NewPool(batch.DefaultConfig())
	}
	return &Builder{Host: host, Pool: pool, Logger: logger}
}

// Build fetches a fresh snapshot of the pull request. Failing to read the pull request or its
// file list is fatal; failing to read a single file revision is recorded on the file and the
// build continues.
func (b *Builder) Build(ctx context.Context, repo providers.RepoRef, number int) (*models.PRSnapshot, error) {
	pr, err := b.Host.GetPullRequest(ctx, repo, number)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get pull request", err)
	}
	changed, err := b.Host.ListChangedFiles(ctx, repo, number)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "list changed files", err)
	}

	b.Logger.Info().
		Str("repo", repo.String()).
		Int("pr", number).
		Str("base", pr.BaseRef).
		Str("head", pr.HeadRef).
		Int("files", len(changed)).
		Msg("Building pull request snapshot")

	tasks := make([]batch.Task[models.FileRevisionPair], len(changed))
	for i, file := range changed {
		tasks[i] = batch.Task[models.FileRevisionPair]{
			ID: file.Path,
			Run: func(ctx context.Context) (models.FileRevisionPair, error) {
				return b.fetchPair(ctx, repo, pr, file), nil
			},
		}
	}
	results := batch.ProcessAll(ctx, b.Pool, tasks)

	snap := &models.PRSnapshot{
		Repo:             repo.String(),
		Number:           pr.Number,
		Title:            pr.Title,
		Body:             pr.Body,
		State:            pr.State,
		Author:           pr.Author,
		BaseRef:          pr.BaseRef,
		HeadRef:          pr.HeadRef,
		BaseSHA:          pr.BaseSHA,
		HeadSHA:          pr.HeadSHA,
		Files:            make([]models.FileRevisionPair, 0, len(results)),
		ConflictingPaths: []string{},
	}
	for _, res := range results {
		pair := res.Result
		if res.Error != nil {
			// only reachable when the context was cancelled before the task ran
			return nil, models.Wrap(models.ErrFatalFetch, "fetch files", res.Error)
		}
		snap.Files = append(snap.Files, pair)
		snap.FetchFailures = append(snap.FetchFailures, pair.FetchErrors...)
		if pair.ConflictText != "" {
			snap.ConflictingPaths = append(snap.ConflictingPaths, pair.Path)
		}
	}

	if len(snap.FetchFailures) > 0 {
		b.Logger.Warn().Int("failures", len(snap.FetchFailures)).Msg("Some file revisions could not be fetched")
	}
	b.Logger.Info().
		Int("files", len(snap.Files)).
		Int("conflicting", len(snap.ConflictingPaths)).
		Msg("Snapshot built")

	return snap, nil
}

func (b *Builder) fetchPair(ctx context.Context, repo providers.RepoRef, pr *providers.PullRequest, file providers.ChangedFile) models.FileRevisionPair {
	pair := models.FileRevisionPair{
		Path:   file.Path,
		Status: models.NormalizeStatus(file.Status),
		Patch:  file.Patch,
	}
	if pair.Status == models.StatusModified && file.PreviousPath != "" && file.PreviousPath != file.Path {
		pair.PreviousPath = file.PreviousPath
	}

	baseRef := pr.BaseSHA
	if baseRef == "" {
		baseRef = pr.BaseRef
	}
	headRepo := pr.HeadRepo
	if headRepo.Owner == "" {
		headRepo = repo
	}

	if pair.Status != models.StatusAdded {
		basePath := file.Path
		if pair.PreviousPath != "" {
			basePath = pair.PreviousPath
		}
		content, err := b.Host.GetFileContent(ctx, repo, basePath, baseRef)
		if err != nil {
			pair.FetchErrors = append(pair.FetchErrors, b.failure(file.Path, "base", err))
		} else {
			pair.BaseContent = &content
		}
	}
	if pair.Status != models.StatusRemoved {
		content, err := b.Host.GetFileContent(ctx, headRepo, file.Path, pr.HeadSHA)
		if err != nil {
			pair.FetchErrors = append(pair.FetchErrors, b.failure(file.Path, "head", err))
		} else {
			pair.HeadContent = &content
		}
	}

	pair.Binary = isBinary(pair.BaseContent) || isBinary(pair.HeadContent)

	if pair.Patch == "" && !pair.Binary {
		pair.Patch = conflict.UnifiedDiff(file.Path, deref(pair.BaseContent), deref(pair.HeadContent))
	}
	if pair.Diverged() && !pair.Binary {
		pair.ConflictText, pair.Regions = conflict.Markers(*pair.BaseContent, *pair.HeadContent)
	}
	return pair
}

func (b *Builder) failure(path, side string, err error) models.FetchFailure {
	kinded := models.Wrap(models.ErrTransientFetch, "fetch "+side, err)
	b.Logger.Warn().Err(err).Str("path", path).Str("side", side).Msg("Failed to fetch file revision")
	return models.FetchFailure{
		Path:    path,
		Side:    side,
		Kind:    models.KindOf(kinded),
		Message: fmt.Sprint(err),
	}
}

// isBinary reports content with a NUL byte, invalid UTF-8, or mostly control characters in
// its first 8000 bytes
func isBinary(content *string) bool {
	if content == nil || *content == "" {
		return false
	}
	sample := *content
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	control := 0
	for i := 0; i < len(sample); i++ {
		c := sample[i]
		if c == 0 {
			return true
		}
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' && c != '\b' {
			control++
		}
	}
	if control*10 > len(sample)*3 {
		return true
	}
	return !utf8.ValidString(trimPartialRune(sample))
}

// trimPartialRune drops a rune cut in half by sampling
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && len(s) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
