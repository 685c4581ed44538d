package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v72/github"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/prmerge/internal/providers"
	"github.com/prmerge/internal/retry"
	"github.com/prmerge/pkg/models"
)

// GitHubProvider implements providers.Host on top of the GitHub REST and Git Data APIs
type GitHubProvider struct {
	client  *gh.Client
	limiter *rate.Limiter
	timeout time.Duration
	retry   retry.RetryConfig
	logger  zerolog.Logger
}

func (p *GitHubProvider) Name() string {
	return "github"
}

// call runs one request under the rate limiter and the per-request timeout
func (p *GitHubProvider) call(ctx context.Context, fn func(ctx context.Context) (*gh.Response, error)) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := fn(ctx)
	if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", providers.ErrNotFound, err)
	}
	return err
}

// read runs an idempotent request with retries. Not-found responses are final.
func read[T any](ctx context.Context, p *GitHubProvider, op string, fn func(ctx context.Context) (T, *gh.Response, error)) (T, error) {
	config := p.retry
	shouldRetry := config.ShouldRetry
	config.ShouldRetry = func(err error) bool {
		if errors.Is(err, providers.ErrNotFound) {
			return false
		}
		return shouldRetry == nil || shouldRetry(err)
	}

	logger := p.logger.With().Str("op", op).Logger()
	return retry.Do(ctx, config, &logger, func() (T, error) {
		var value T
		err := p.call(ctx, func(ctx context.Context) (*gh.Response, error) {
			v, resp, err := fn(ctx)
			value = v
			return resp, err
		})
		return value, err
	})
}

func (p *GitHubProvider) GetPullRequest(ctx context.Context, repo providers.RepoRef, number int) (*providers.PullRequest, error) {
	pr, err := read(ctx, p, "get_pull_request", func(ctx context.Context) (*gh.PullRequest, *gh.Response, error) {
		return p.client.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %s#%d: %w", repo, number, err)
	}

	headRepo := repo
	if r := pr.GetHead().GetRepo(); r != nil && r.GetOwner().GetLogin() != "" && r.GetName() != "" {
		headRepo = providers.RepoRef{Owner: r.GetOwner().GetLogin(), Name: r.GetName()}
	}

	return &providers.PullRequest{
		Number:   pr.GetNumber(),
		Title:    pr.GetTitle(),
		Body:     pr.GetBody(),
		State:    pr.GetState(),
		Author:   pr.GetUser().GetLogin(),
		BaseRef:  pr.GetBase().GetRef(),
		BaseSHA:  pr.GetBase().GetSHA(),
		HeadRef:  pr.GetHead().GetRef(),
		HeadSHA:  pr.GetHead().GetSHA(),
		HeadRepo: headRepo,
	}, nil
}

func (p *GitHubProvider) ListChangedFiles(ctx context.Context, repo providers.RepoRef, number int) ([]providers.ChangedFile, error) {
	var out []providers.ChangedFile
	opts := &gh.ListOptions{PerPage: 100}
	for {
		type page struct {
			files []*gh.CommitFile
			next  int
		}
		pg, err := read(ctx, p, "list_files", func(ctx context.Context) (page, *gh.Response, error) {
			files, resp, err := p.client.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
			if err != nil {
				return page{}, resp, err
			}
			return page{files: files, next: resp.NextPage}, resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list files of %s#%d: %w", repo, number, err)
		}
		for _, f := range pg.files {
			out = append(out, providers.ChangedFile{
				Path:         f.GetFilename(),
				PreviousPath: f.GetPreviousFilename(),
				Status:       f.GetStatus(),
				Patch:        f.GetPatch(),
			})
		}
		if pg.next == 0 {
			break
		}
		opts.Page = pg.next
	}
	return out, nil
}

func (p *GitHubProvider) ListPullRequestCommits(ctx context.Context, repo providers.RepoRef, number int) ([]models.CommitInfo, error) {
	var out []models.CommitInfo
	opts := &gh.ListOptions{PerPage: 100}
	for {
		type page struct {
			commits []*gh.RepositoryCommit
			next    int
		}
		pg, err := read(ctx, p, "list_commits", func(ctx context.Context) (page, *gh.Response, error) {
			commits, resp, err := p.client.PullRequests.ListCommits(ctx, repo.Owner, repo.Name, number, opts)
			if err != nil {
				return page{}, resp, err
			}
			return page{commits: commits, next: resp.NextPage}, resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list commits of %s#%d: %w", repo, number, err)
		}
		for _, c := range pg.commits {
			info := models.CommitInfo{
				SHA:     c.GetSHA(),
				Message: c.GetCommit().GetMessage(),
				TreeSHA: c.GetCommit().GetTree().GetSHA(),
				Author:  signature(c.GetCommit().GetAuthor()),
			}
			for _, parent := range c.Parents {
				info.Parents = append(info.Parents, parent.GetSHA())
			}
			out = append(out, info)
		}
		if pg.next == 0 {
			break
		}
		opts.Page = pg.next
	}
	return out, nil
}

func (p *GitHubProvider) GetFileContent(ctx context.Context, repo providers.RepoRef, path, ref string) (string, error) {
	file, err := read(ctx, p, "get_contents", func(ctx context.Context) (*gh.RepositoryContent, *gh.Response, error) {
		fc, _, resp, err := p.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &gh.RepositoryContentGetOptions{Ref: ref})
		return fc, resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %s at %s: %w", path, ref, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s at %s is a directory", path, ref)
	}

	// Files over 1MB come back without inline content
	if file.GetEncoding() == "none" || (file.Content == nil && file.GetSize() > 0) {
		raw, err := read(ctx, p, "get_blob", func(ctx context.Context) ([]byte, *gh.Response, error) {
			return p.client.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, file.GetSHA())
		})
		if err != nil {
			return "", fmt.Errorf("failed to get blob for %s: %w", path, err)
		}
		return string(raw), nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return content, nil
}

func (p *GitHubProvider) GetBranchTip(ctx context.Context, repo providers.RepoRef, branch string) (string, error) {
	ref, err := read(ctx, p, "get_ref", func(ctx context.Context) (*gh.Reference, *gh.Response, error) {
		return p.client.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+branch)
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve branch %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

func (p *GitHubProvider) GetCommit(ctx context.Context, repo providers.RepoRef, sha string) (*models.CommitInfo, error) {
	c, err := read(ctx, p, "get_commit", func(ctx context.Context) (*gh.Commit, *gh.Response, error) {
		return p.client.Git.GetCommit(ctx, repo.Owner, repo.Name, sha)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", sha, err)
	}
	info := &models.CommitInfo{
		SHA:     c.GetSHA(),
		Message: c.GetMessage(),
		TreeSHA: c.GetTree().GetSHA(),
		Author:  signature(c.GetAuthor()),
	}
	for _, parent := range c.Parents {
		info.Parents = append(info.Parents, parent.GetSHA())
	}
	return info, nil
}

func (p *GitHubProvider) GetTree(ctx context.Context, repo providers.RepoRef, treeSHA string) ([]models.TreeElement, error) {
	tree, err := read(ctx, p, "get_tree", func(ctx context.Context) (*gh.Tree, *gh.Response, error) {
		return p.client.Git.GetTree(ctx, repo.Owner, repo.Name, treeSHA, true)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", treeSHA, err)
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("tree %s is too large to list recursively", treeSHA)
	}

	var out []models.TreeElement
	for _, e := range tree.Entries {
		if e.GetType() == models.TypeTree {
			continue
		}
		sha := e.GetSHA()
		out = append(out, models.TreeElement{
			Path: e.GetPath(),
			Mode: e.GetMode(),
			Type: e.GetType(),
			SHA:  &sha,
		})
	}
	return out, nil
}

func (p *GitHubProvider) CreateBlob(ctx context.Context, repo providers.RepoRef, content string) (string, error) {
	var sha string
	err := p.call(ctx, func(ctx context.Context) (*gh.Response, error) {
		blob, resp, err := p.client.Git.CreateBlob(ctx, repo.Owner, repo.Name, &gh.Blob{
			Content:  gh.Ptr(content),
			Encoding: gh.Ptr("utf-8"),
		})
		if err == nil {
			sha = blob.GetSHA()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	return sha, nil
}

func (p *GitHubProvider) CreateTree(ctx context.Context, repo providers.RepoRef, baseTree string, elements []models.TreeElement) (string, error) {
	entries := make([]*gh.TreeEntry, 0, len(elements))
	for _, e := range elements {
		entry := &gh.TreeEntry{
			Path: gh.Ptr(e.Path),
			Mode: gh.Ptr(e.Mode),
			Type: gh.Ptr(e.Type),
		}
		if e.SHA != nil {
			entry.SHA = gh.Ptr(*e.SHA)
		}
		entries = append(entries, entry)
	}

	var sha string
	err := p.call(ctx, func(ctx context.Context) (*gh.Response, error) {
		tree, resp, err := p.client.Git.CreateTree(ctx, repo.Owner, repo.Name, baseTree, entries)
		if err == nil {
			sha = tree.GetSHA()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}
	return sha, nil
}

func (p *GitHubProvider) CreateCommit(ctx context.Context, repo providers.RepoRef, message, treeSHA string, parents []string, author *models.Signature) (string, error) {
	commit := &gh.Commit{
		Message: gh.Ptr(message),
		Tree:    &gh.Tree{SHA: gh.Ptr(treeSHA)},
	}
	if author != nil {
		commit.Author = &gh.CommitAuthor{
			Name:  gh.Ptr(author.Name),
			Email: gh.Ptr(author.Email),
		}
		if !author.When.IsZero() {
			commit.Author.Date = &gh.Timestamp{Time: author.When}
		}
	}
	for _, parent := range parents {
		commit.Parents = append(commit.Parents, &gh.Commit{SHA: gh.Ptr(parent)})
	}

	var sha string
	err := p.call(ctx, func(ctx context.Context) (*gh.Response, error) {
		created, resp, err := p.client.Git.CreateCommit(ctx, repo.Owner, repo.Name, commit, nil)
		if err == nil {
			sha = created.GetSHA()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return sha, nil
}

// UpdateRef moves the branch. GitHub has no compare-and-set on refs: a non-forced update is
// rejected unless it is a fast-forward, which is what catches a concurrently moved branch. For
// forced updates the expected old tip is checked right before the update.
func (p *GitHubProvider) UpdateRef(ctx context.Context, repo providers.RepoRef, branch, sha, expectedOld string, force bool) error {
	if force && expectedOld != "" {
		current, err := p.GetBranchTip(ctx, repo, branch)
		if err != nil {
			return err
		}
		if current != expectedOld {
			return models.Newf(models.ErrRefUpdateConflict, "update ref",
				"branch %s moved from %s to %s", branch, short(expectedOld), short(current))
		}
	}

	ref := &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	}
	err := p.call(ctx, func(ctx context.Context) (*gh.Response, error) {
		_, resp, err := p.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, ref, force)
		return resp, err
	})
	if err == nil {
		return nil
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusUnprocessableEntity, http.StatusConflict:
			return models.Wrap(models.ErrRefUpdateConflict, "update ref", fmt.Errorf("branch %s: %w", branch, err))
		}
	}
	return fmt.Errorf("failed to update branch %s: %w", branch, err)
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func signature(a *gh.CommitAuthor) *models.Signature {
	if a == nil || (a.GetName() == "" && a.GetEmail() == "") {
		return nil
	}
	return &models.Signature{Name: a.GetName(), Email: a.GetEmail(), When: a.GetDate().Time}
}
