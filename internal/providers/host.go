package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prmerge/pkg/models"
)

// Host is the version-control hosting surface the pipeline consumes. Implementations are thin
// adapters; every method is a network (or store) call that may fail transiently.
type Host interface {
	Name() string

	GetPullRequest(ctx context.Context, repo RepoRef, number int) (*PullRequest, error)
	ListChangedFiles(ctx context.Context, repo RepoRef, number int) ([]ChangedFile, error)
	ListPullRequestCommits(ctx context.Context, repo RepoRef, number int) ([]models.CommitInfo, error)

	// GetFileContent returns ErrNotFound when path does not exist at ref
	GetFileContent(ctx context.Context, repo RepoRef, path, ref string) (string, error)

	GetBranchTip(ctx context.Context, repo RepoRef, branch string) (string, error)
	GetCommit(ctx context.Context, repo RepoRef, sha string) (*models.CommitInfo, error)
	// GetTree returns every blob (and submodule) entry reachable from the tree, with full paths
	GetTree(ctx context.Context, repo RepoRef, treeSHA string) ([]models.TreeElement, error)

	CreateBlob(ctx context.Context, repo RepoRef, content string) (string, error)
	// CreateTree layers elements onto baseTree. Paths may contain slashes; a nil SHA deletes.
	CreateTree(ctx context.Context, repo RepoRef, baseTree string, elements []models.TreeElement) (string, error)
	// CreateCommit stores a commit. A nil author lets the host pick its own identity.
	CreateCommit(ctx context.Context, repo RepoRef, message, treeSHA string, parents []string, author *models.Signature) (string, error)
	// UpdateRef moves branch to sha. Without force the update must be a fast-forward; with
	// expectedOld set the update fails with ErrRefUpdateConflict when the branch moved.
	UpdateRef(ctx context.Context, repo RepoRef, branch, sha, expectedOld string, force bool) error
}

// ErrNotFound is returned by hosts when a file or object does not exist
var ErrNotFound = errors.New("not found")

// RepoRef identifies a repository as owner/name
type RepoRef struct {
	Owner string
	Name  string
}

// ParseRepo splits "owner/name"
func ParseRepo(s string) (RepoRef, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("invalid repository %q: expected 'owner/repo'", s)
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// PullRequest contains the pull request metadata the pipeline needs
type PullRequest struct {
	Number  int
	Title   string
	Body    string
	State   string
	Author  string
	BaseRef string
	BaseSHA string
	HeadRef string
	HeadSHA string
	// HeadRepo is the repository the head branch lives in (differs from the base for forks)
	HeadRepo RepoRef
}

// ChangedFile is one entry of a pull request's file list
type ChangedFile struct {
	Path         string
	PreviousPath string
	Status       string // raw host status
	Patch        string
}
