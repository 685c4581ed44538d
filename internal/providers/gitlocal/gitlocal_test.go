package gitlocal

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prmerge/internal/providers"
	"github.com/prmerge/pkg/models"
)

var repo = providers.RepoRef{Owner: "local", Name: "demo"}

func str(s string) *string { return &s }

// fixture builds main with two files and a feature branch that edits, adds and removes files
func fixture(t *testing.T) *Host {
	t.Helper()
	ctx := context.Background()
	h, err := NewMemory()
	require.NoError(t, err)

	root, err := h.CommitFiles(ctx, "main", "init", map[string]*string{
		"README.md":  str("hello\n"),
		"src/app.go": str("package app\n"),
		"old.txt":    str("bye\n"),
	})
	require.NoError(t, err)
	require.NoError(t, h.CreateBranch("feature", root))

	_, err = h.CommitFiles(ctx, "feature", "edit app", map[string]*string{
		"src/app.go": str("package app\n\nfunc A() {}\n"),
	})
	require.NoError(t, err)
	_, err = h.CommitFiles(ctx, "feature", "add and remove", map[string]*string{
		"docs/new.md": str("# new\n"),
		"old.txt":     nil,
	})
	require.NoError(t, err)

	require.NoError(t, h.RegisterPullRequest(PullRequestSpec{Number: 1, Title: "Feature", Base: "main", Head: "feature"}))
	return h
}

func TestGetPullRequest(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	pr, err := h.GetPullRequest(ctx, repo, 1)
	require.NoError(t, err)
	assert.Equal(t, "Feature", pr.Title)
	assert.Equal(t, "main", pr.BaseRef)
	assert.Equal(t, "feature", pr.HeadRef)
	assert.Len(t, pr.HeadSHA, 40)
	assert.NotEqual(t, pr.BaseSHA, pr.HeadSHA)

	_, err = h.GetPullRequest(ctx, repo, 99)
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestListChangedFiles(t *testing.T) {
	h := fixture(t)

	files, err := h.ListChangedFiles(context.Background(), repo, 1)
	require.NoError(t, err)

	statuses := map[string]string{}
	for _, f := range files {
		statuses[f.Path] = f.Status
	}
	assert.Equal(t, map[string]string{
		"docs/new.md": "added",
		"old.txt":     "removed",
		"src/app.go":  "modified",
	}, statuses)
}

func TestListPullRequestCommits_OldestFirst(t *testing.T) {
	h := fixture(t)

	commits, err := h.ListPullRequestCommits(context.Background(), repo, 1)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "edit app", commits[0].Message)
	assert.Equal(t, "add and remove", commits[1].Message)
	assert.Equal(t, []string{commits[0].SHA}, commits[1].Parents)
}

func TestGetFileContent(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	content, err := h.GetFileContent(ctx, repo, "src/app.go", "feature")
	require.NoError(t, err)
	assert.Equal(t, "package app\n\nfunc A() {}\n", content)

	pr, err := h.GetPullRequest(ctx, repo, 1)
	require.NoError(t, err)
	content, err = h.GetFileContent(ctx, repo, "src/app.go", pr.BaseSHA)
	require.NoError(t, err)
	assert.Equal(t, "package app\n", content)

	_, err = h.GetFileContent(ctx, repo, "old.txt", "feature")
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestCreateTree_NestedPathsAndDeletes(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	tip, err := h.GetBranchTip(ctx, repo, "feature")
	require.NoError(t, err)
	commit, err := h.GetCommit(ctx, repo, tip)
	require.NoError(t, err)

	blob, err := h.CreateBlob(ctx, repo, "deep\n")
	require.NoError(t, err)
	tree, err := h.CreateTree(ctx, repo, commit.TreeSHA, []models.TreeElement{
		{Path: "a/b/c/deep.txt", Mode: models.ModeFile, Type: models.TypeBlob, SHA: &blob},
		{Path: "docs/new.md", Mode: models.ModeFile, Type: models.TypeBlob},
	})
	require.NoError(t, err)

	elements, err := h.GetTree(ctx, repo, tree)
	require.NoError(t, err)
	var paths []string
	for _, e := range elements {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"README.md", "a/b/c/deep.txt", "src/app.go"}, paths)
}

func TestCreateTree_SameContentSameHash(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	tip, err := h.GetBranchTip(ctx, repo, "main")
	require.NoError(t, err)
	commit, err := h.GetCommit(ctx, repo, tip)
	require.NoError(t, err)

	tree, err := h.CreateTree(ctx, repo, commit.TreeSHA, nil)
	require.NoError(t, err)
	assert.Equal(t, commit.TreeSHA, tree)
}

func TestUpdateRef_RejectsNonFastForward(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	mainTip, err := h.GetBranchTip(ctx, repo, "main")
	require.NoError(t, err)
	featureTip, err := h.GetBranchTip(ctx, repo, "feature")
	require.NoError(t, err)

	err = h.UpdateRef(ctx, repo, "feature", mainTip, featureTip, false)
	assert.ErrorIs(t, err, models.ErrRefUpdateConflict)

	require.NoError(t, h.UpdateRef(ctx, repo, "feature", mainTip, featureTip, true))
	tip, err := h.GetBranchTip(ctx, repo, "feature")
	require.NoError(t, err)
	assert.Equal(t, mainTip, tip)
}

func TestUpdateRef_ExpectedOldMismatch(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	mainTip, err := h.GetBranchTip(ctx, repo, "main")
	require.NoError(t, err)
	featureTip, err := h.GetBranchTip(ctx, repo, "feature")
	require.NoError(t, err)

	err = h.UpdateRef(ctx, repo, "feature", mainTip, mainTip, true)
	assert.ErrorIs(t, err, models.ErrRefUpdateConflict)

	tip, err := h.GetBranchTip(ctx, repo, "feature")
	require.NoError(t, err)
	assert.Equal(t, featureTip, tip)
}

func TestCreateTree_RejectsFileDirectoryCollision(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	tip, err := h.GetBranchTip(ctx, repo, "main")
	require.NoError(t, err)
	commit, err := h.GetCommit(ctx, repo, tip)
	require.NoError(t, err)
	blob, err := h.CreateBlob(ctx, repo, "x\n")
	require.NoError(t, err)

	cases := map[string]string{
		"file over directory": "src",
		"file under file":     "README.md/inner.txt",
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.CreateTree(ctx, repo, commit.TreeSHA, []models.TreeElement{
				{Path: p, Mode: models.ModeFile, Type: models.TypeBlob, SHA: &blob},
			})
			require.Error(t, err)
		})
	}

	// replacing the directory is fine once its contents are gone
	tree, err := h.CreateTree(ctx, repo, commit.TreeSHA, []models.TreeElement{
		{Path: "src", Mode: models.ModeFile, Type: models.TypeBlob, SHA: &blob},
		{Path: "src/app.go", Mode: models.ModeFile, Type: models.TypeBlob},
	})
	require.NoError(t, err)
	content, err := h.GetTree(ctx, repo, tree)
	require.NoError(t, err)
	assert.Len(t, content, 3)
}

func TestCreateCommit_KeepsAuthor(t *testing.T) {
	h := fixture(t)
	ctx := context.Background()

	tip, err := h.GetBranchTip(ctx, repo, "main")
	require.NoError(t, err)
	commit, err := h.GetCommit(ctx, repo, tip)
	require.NoError(t, err)

	when := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	sha, err := h.CreateCommit(ctx, repo, "replayed", commit.TreeSHA, []string{tip}, &models.Signature{Name: "Ada", Email: "ada@example.com", When: when})
	require.NoError(t, err)

	got, err := h.GetCommit(ctx, repo, sha)
	require.NoError(t, err)
	require.NotNil(t, got.Author)
	assert.Equal(t, "Ada", got.Author.Name)
	assert.Equal(t, "ada@example.com", got.Author.Email)
	assert.True(t, when.Equal(got.Author.When))

	raw, err := h.Repository().CommitObject(plumbing.NewHash(sha))
	require.NoError(t, err)
	assert.Equal(t, "prmerge", raw.Committer.Name)
}
