// Package commitgraph turns resolution edits into commits on a pull request branch, either as a
// single commit on the current tip or by replaying the branch onto a new base first.
package commitgraph

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"

	"github.com/prmerge/internal/batch"
	"github.com/prmerge/internal/providers"
	"github.com/prmerge/pkg/models"
)

// DefaultCommitMessage is used for the edit commit when no message is configured
const DefaultCommitMessage = "Auto-merge: Apply LLM suggestions"

// Mode selects how edits reach the branch
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRebase Mode = "rebase"
)

// ParseMode accepts "direct" and "rebase"; an empty string means direct
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDirect:
		return ModeDirect, nil
	case ModeRebase:
		return ModeRebase, nil
	}
	return "", models.Newf(models.ErrConfig, "parse mode", "unknown update mode %q (want direct or rebase)", s)
}

// Result describes what a write did to the branch
type Result struct {
	Mode         Mode
	Branch       string
	PreviousHead string
	Head         string
	CommitSHAs   []string // new commits, oldest first
	TreeSHA      string   // tree of the last new commit
	BlobsCreated int
	Applied      []string // paths written by the edit commit
	Skipped      []string // paths whose proposed content matched the existing blob
	NoOp         bool
}

// Writer creates git objects through a host and moves the branch
type Writer struct {
	Host    providers.Host
	Pool    *batch.Pool
	Message string
	Logger  zerolog.Logger
}

// NewWriter creates a writer with the default commit message
func NewWriter(host providers.Host, pool *batch.Pool, logger zerolog.Logger) *Writer {
	if pool == nil {
		pool = batch.NewPool(batch.DefaultConfig())
	}
	return &Writer{Host: host, Pool: pool, Message: DefaultCommitMessage, Logger: logger}
}

func (w *Writer) message() string {
	if strings.TrimSpace(w.Message) == "" {
		return DefaultCommitMessage
	}
	return w.Message
}

// DirectApply commits the edits on top of the branch tip. Edits whose content already matches
// the tip are skipped; when nothing is left no object is created and the ref is not touched.
func (w *Writer) DirectApply(ctx context.Context, repo providers.RepoRef, branch string, edits []models.ResolutionEdit) (*Result, error) {
	tip, err := w.Host.GetBranchTip(ctx, repo, branch)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get branch tip", err)
	}
	tipCommit, err := w.Host.GetCommit(ctx, repo, tip)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get tip commit", err)
	}
	entries, err := w.Host.GetTree(ctx, repo, tipCommit.TreeSHA)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get tip tree", err)
	}

	current := indexTree(entries)
	if err := checkEditPaths(edits, current); err != nil {
		return nil, err
	}

	result := &Result{Mode: ModeDirect, Branch: branch, PreviousHead: tip, Head: tip, TreeSHA: tipCommit.TreeSHA}
	pending, skipped := pendingEdits(edits, current)
	result.Skipped = skipped

	if len(pending) == 0 {
		result.NoOp = true
		w.Logger.Info().
			Str("branch", branch).
			Str("head", short(tip)).
			Int("skipped", len(skipped)).
			Msg("Branch already contains the proposed content, nothing to commit")
		return result, nil
	}

	elements, err := w.createBlobs(ctx, repo, pending, current)
	if err != nil {
		return nil, err
	}
	result.BlobsCreated = len(elements)

	tree, err := w.Host.CreateTree(ctx, repo, tipCommit.TreeSHA, elements)
	if err != nil {
		return nil, models.Wrap(models.ErrObjectCreation, "create tree", err)
	}
	commit, err := w.Host.CreateCommit(ctx, repo, w.message(), tree, []string{tip}, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrObjectCreation, "create commit", err)
	}

	if err := w.moveRef(ctx, repo, branch, commit, tip, false); err != nil {
		return nil, err
	}

	result.Head = commit
	result.TreeSHA = tree
	result.CommitSHAs = []string{commit}
	result.Applied = pathsOf(pending)
	w.Logger.Info().
		Str("branch", branch).
		Str("from", short(tip)).
		Str("to", short(commit)).
		Int("files", len(pending)).
		Msg("Applied edits to branch")
	return result, nil
}

// RebaseApply replays commits, oldest first, onto newBase and then adds the edit commit. The
// result always has len(commits)+1 new commits, each with a single parent. The branch is
// force-moved once at the end, and only if it still points at the head read at the start.
func (w *Writer) RebaseApply(ctx context.Context, repo providers.RepoRef, branch, newBase string, commits []models.CommitInfo, edits []models.ResolutionEdit) (*Result, error) {
	head, err := w.Host.GetBranchTip(ctx, repo, branch)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get branch tip", err)
	}
	baseCommit, err := w.Host.GetCommit(ctx, repo, newBase)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get new base", err)
	}

	trees := &treeCache{host: w.Host, repo: repo, trees: make(map[string][]models.TreeElement)}
	running, err := trees.get(ctx, baseCommit.TreeSHA)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "get base tree", err)
	}
	state := indexTree(running)

	changes, err := w.loadChanges(ctx, repo, trees, commits)
	if err != nil {
		return nil, err
	}

	// fold the replay locally first so bad edit paths are rejected before anything is written
	steps := make([][]models.TreeElement, len(commits))
	for i := range commits {
		steps[i] = effectiveChanges(changes[i], state)
		applyChanges(state, steps[i])
	}
	if err := checkEditPaths(edits, state); err != nil {
		return nil, err
	}
	pending, skipped := pendingEdits(edits, state)

	w.Logger.Info().
		Str("branch", branch).
		Str("onto", short(baseCommit.SHA)).
		Int("commits", len(commits)).
		Msg("Replaying branch onto new base")

	result := &Result{Mode: ModeRebase, Branch: branch, PreviousHead: head, Skipped: skipped}
	parent := baseCommit.SHA
	tree := baseCommit.TreeSHA

	for i, c := range commits {
		if len(steps[i]) > 0 {
			tree, err = w.Host.CreateTree(ctx, repo, tree, steps[i])
			if err != nil {
				return nil, models.Wrap(models.ErrObjectCreation, "create tree for "+short(c.SHA), err)
			}
		}
		parent, err = w.Host.CreateCommit(ctx, repo, c.Message, tree, []string{parent}, c.Author)
		if err != nil {
			return nil, models.Wrap(models.ErrObjectCreation, "replay commit "+short(c.SHA), err)
		}
		result.CommitSHAs = append(result.CommitSHAs, parent)
		w.Logger.Debug().Str("original", short(c.SHA)).Str("replayed", short(parent)).Msg("Replayed commit")
	}

	if len(pending) > 0 {
		elements, err := w.createBlobs(ctx, repo, pending, state)
		if err != nil {
			return nil, err
		}
		result.BlobsCreated = len(elements)
		tree, err = w.Host.CreateTree(ctx, repo, tree, elements)
		if err != nil {
			return nil, models.Wrap(models.ErrObjectCreation, "create tree", err)
		}
		result.Applied = pathsOf(pending)
	}
	last, err := w.Host.CreateCommit(ctx, repo, w.message(), tree, []string{parent}, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrObjectCreation, "create commit", err)
	}
	result.CommitSHAs = append(result.CommitSHAs, last)

	if err := w.moveRef(ctx, repo, branch, last, head, true); err != nil {
		return nil, err
	}

	result.Head = last
	result.TreeSHA = tree
	w.Logger.Info().
		Str("branch", branch).
		Str("from", short(head)).
		Str("to", short(last)).
		Int("new_commits", len(result.CommitSHAs)).
		Int("files", len(pending)).
		Msg("Rebased branch and applied edits")
	return result, nil
}

func (w *Writer) moveRef(ctx context.Context, repo providers.RepoRef, branch, sha, expectedOld string, force bool) error {
	err := w.Host.UpdateRef(ctx, repo, branch, sha, expectedOld, force)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrRefUpdateConflict) {
		w.Logger.Warn().Str("branch", branch).Str("expected", short(expectedOld)).Msg("Branch moved while writing, not retrying")
		return err
	}
	return fmt.Errorf("failed to update %s: %w", branch, err)
}

// loadChanges reads, concurrently, what every commit changed relative to its first parent
func (w *Writer) loadChanges(ctx context.Context, repo providers.RepoRef, trees *treeCache, commits []models.CommitInfo) ([][]models.TreeElement, error) {
	tasks := make([]batch.Task[[]models.TreeElement], len(commits))
	for i, c := range commits {
		tasks[i] = batch.Task[[]models.TreeElement]{
			ID: short(c.SHA),
			Run: func(ctx context.Context) ([]models.TreeElement, error) {
				treeSHA := c.TreeSHA
				if treeSHA == "" {
					full, err := w.Host.GetCommit(ctx, repo, c.SHA)
					if err != nil {
						return nil, err
					}
					treeSHA = full.TreeSHA
				}
				after, err := trees.get(ctx, treeSHA)
				if err != nil {
					return nil, err
				}
				var before []models.TreeElement
				if len(c.Parents) > 0 {
					parent, err := w.Host.GetCommit(ctx, repo, c.Parents[0])
					if err != nil {
						return nil, err
					}
					if before, err = trees.get(ctx, parent.TreeSHA); err != nil {
						return nil, err
					}
				}
				return diffTrees(before, after), nil
			},
		}
	}
	changes, err := batch.Collect(ctx, w.Pool, tasks)
	if err != nil {
		return nil, models.Wrap(models.ErrFatalFetch, "load commit trees", err)
	}
	return changes, nil
}

// createBlobs uploads the pending contents and returns the tree elements that point at them
func (w *Writer) createBlobs(ctx context.Context, repo providers.RepoRef, pending []models.ResolutionEdit, existing map[string]models.TreeElement) ([]models.TreeElement, error) {
	tasks := make([]batch.Task[string], len(pending))
	for i, edit := range pending {
		tasks[i] = batch.Task[string]{
			ID: edit.Path,
			Run: func(ctx context.Context) (string, error) {
				return w.Host.CreateBlob(ctx, repo, edit.Content)
			},
		}
	}
	shas, err := batch.Collect(ctx, w.Pool, tasks)
	if err != nil {
		return nil, models.Wrap(models.ErrObjectCreation, "create blobs", err)
	}

	elements := make([]models.TreeElement, len(pending))
	for i, edit := range pending {
		mode := models.ModeFile
		if cur, ok := existing[edit.Path]; ok && cur.Type == models.TypeBlob {
			mode = cur.Mode
		}
		sha := shas[i]
		elements[i] = models.TreeElement{Path: edit.Path, Mode: mode, Type: models.TypeBlob, SHA: &sha}
	}
	return elements, nil
}

// BlobID returns the git object id content would be stored under
func BlobID(content string) string {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content)).String()
}

// pendingEdits splits edits into those that change the tree and those that would write an
// identical blob at the same path
func pendingEdits(edits []models.ResolutionEdit, tree map[string]models.TreeElement) (pending []models.ResolutionEdit, skipped []string) {
	for _, edit := range edits {
		if cur, ok := tree[edit.Path]; ok && cur.SHA != nil && cur.Type == models.TypeBlob && *cur.SHA == BlobID(edit.Content) {
			skipped = append(skipped, edit.Path)
			continue
		}
		pending = append(pending, edit)
	}
	return pending, skipped
}

// checkEditPaths rejects edits that would turn a directory into a file or put a file below
// another file, in the tree or among the edits themselves
func checkEditPaths(edits []models.ResolutionEdit, tree map[string]models.TreeElement) error {
	files := make(map[string]bool, len(tree)+len(edits))
	dirs := make(map[string]bool)
	for p := range tree {
		files[p] = true
		addParents(dirs, p)
	}
	for _, edit := range edits {
		files[edit.Path] = true
		addParents(dirs, edit.Path)
	}
	for _, edit := range edits {
		if dirs[edit.Path] {
			return models.Newf(models.ErrMalformedModelOutput, "check edit paths", "%s is a directory", edit.Path)
		}
		for dir := path.Dir(edit.Path); dir != "."; dir = path.Dir(dir) {
			if files[dir] {
				return models.Newf(models.ErrMalformedModelOutput, "check edit paths", "%s: %s is a file", edit.Path, dir)
			}
		}
	}
	return nil
}

func addParents(dirs map[string]bool, p string) {
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		dirs[dir] = true
	}
}

// diffTrees returns the elements that turn before into after. Removed paths have a nil SHA.
func diffTrees(before, after []models.TreeElement) []models.TreeElement {
	old := indexTree(before)
	var out []models.TreeElement
	for _, e := range after {
		prev, ok := old[e.Path]
		if ok && prev.Mode == e.Mode && sameSHA(prev.SHA, e.SHA) {
			delete(old, e.Path)
			continue
		}
		delete(old, e.Path)
		out = append(out, e)
	}
	for _, p := range sortedKeys(old) {
		out = append(out, models.TreeElement{Path: p, Mode: old[p].Mode, Type: old[p].Type})
	}
	return out
}

// effectiveChanges drops deletions of paths the running tree does not have and writes that
// are already in place
func effectiveChanges(changes []models.TreeElement, state map[string]models.TreeElement) []models.TreeElement {
	var out []models.TreeElement
	for _, e := range changes {
		cur, ok := state[e.Path]
		if e.SHA == nil {
			if ok {
				out = append(out, e)
			}
			continue
		}
		if ok && cur.Mode == e.Mode && sameSHA(cur.SHA, e.SHA) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func applyChanges(state map[string]models.TreeElement, elements []models.TreeElement) {
	for _, e := range elements {
		if e.SHA == nil {
			delete(state, e.Path)
			continue
		}
		state[e.Path] = e
	}
}

func indexTree(entries []models.TreeElement) map[string]models.TreeElement {
	idx := make(map[string]models.TreeElement, len(entries))
	for _, e := range entries {
		idx[e.Path] = e
	}
	return idx
}

func sameSHA(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortedKeys(m map[string]models.TreeElement) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return models.SortedPaths(keys)
}

func pathsOf(edits []models.ResolutionEdit) []string {
	out := make([]string, len(edits))
	for i, e := range edits {
		out[i] = e.Path
	}
	return out
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// treeCache shares tree reads between the concurrent commit loads; consecutive commits usually
// read each other's trees
type treeCache struct {
	host  providers.Host
	repo  providers.RepoRef
	mu    sync.Mutex
	trees map[string][]models.TreeElement
}

func (c *treeCache) get(ctx context.Context, sha string) ([]models.TreeElement, error) {
	c.mu.Lock()
	if t, ok := c.trees[sha]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	t, err := c.host.GetTree(ctx, c.repo, sha)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.trees[sha] = t
	c.mu.Unlock()
	return t, nil
}
