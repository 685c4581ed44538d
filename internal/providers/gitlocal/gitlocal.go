// Package gitlocal implements providers.Host over a local or in-memory git repository.
// Pull requests are registered explicitly as a pair of branches.
package gitlocal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/prmerge/internal/providers"
	"github.com/prmerge/pkg/models"
)

// PullRequestSpec registers a pull request between two branches
type PullRequestSpec struct {
	Number int
	Title  string
	Body   string
	Author string
	Base   string
	Head   string
}

// Host is a providers.Host backed by a go-git repository. All operations are serialized.
type Host struct {
	repo  *git.Repository
	mu    sync.Mutex
	pulls map[int]PullRequestSpec

	// Signature is used as author and committer of created commits
	Signature object.Signature
	now       func() time.Time
}

// Open opens the repository at path
func Open(path string) (*Host, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "open repository", fmt.Errorf("%s: %w", path, err))
	}
	return newHost(repo), nil
}

// NewMemory creates an empty in-memory repository
func NewMemory() (*Host, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	return newHost(repo), nil
}

func newHost(repo *git.Repository) *Host {
	return &Host{
		repo:      repo,
		pulls:     make(map[int]PullRequestSpec),
		Signature: object.Signature{Name: "prmerge", Email: "prmerge@localhost"},
		now:       time.Now,
	}
}

// Repository exposes the underlying repository
func (h *Host) Repository() *git.Repository {
	return h.repo
}

// RegisterPullRequest makes a base/head branch pair visible as a pull request
func (h *Host) RegisterPullRequest(spec PullRequestSpec) error {
	if spec.Number <= 0 {
		return fmt.Errorf("pull request number must be positive")
	}
	if spec.Base == "" || spec.Head == "" {
		return fmt.Errorf("pull request %d needs both a base and a head branch", spec.Number)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pulls[spec.Number] = spec
	return nil
}

func (h *Host) Name() string {
	return "local"
}

func (h *Host) GetPullRequest(ctx context.Context, repo providers.RepoRef, number int) (*providers.PullRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	spec, ok := h.pulls[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d: %w", number, providers.ErrNotFound)
	}
	baseSHA, err := h.tip(spec.Base)
	if err != nil {
		return nil, err
	}
	headSHA, err := h.tip(spec.Head)
	if err != nil {
		return nil, err
	}
	return &providers.PullRequest{
		Number:   spec.Number,
		Title:    spec.Title,
		Body:     spec.Body,
		State:    "open",
		Author:   spec.Author,
		BaseRef:  spec.Base,
		BaseSHA:  baseSHA.String(),
		HeadRef:  spec.Head,
		HeadSHA:  headSHA.String(),
		HeadRepo: repo,
	}, nil
}

// ListChangedFiles compares the merge base of the two branches with the head, like a hosted
// pull request does. Patches are left empty.
func (h *Host) ListChangedFiles(ctx context.Context, repo providers.RepoRef, number int) ([]providers.ChangedFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	base, head, err := h.pullCommits(number)
	if err != nil {
		return nil, err
	}
	from := base
	if bases, err := base.MergeBase(head); err == nil && len(bases) > 0 {
		from = bases[0]
	}

	fromTree, err := from.Tree()
	if err != nil {
		return nil, err
	}
	toTree, err := head.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]providers.ChangedFile, 0, len(changes))
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, err
		}
		file := providers.ChangedFile{Path: change.To.Name}
		switch action {
		case merkletrie.Insert:
			file.Status = "added"
		case merkletrie.Delete:
			file.Path = change.From.Name
			file.Status = "removed"
		default:
			file.Status = "modified"
			if change.From.Name != change.To.Name {
				file.Status = "renamed"
				file.PreviousPath = change.From.Name
			}
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ListPullRequestCommits returns the commits reachable from head but not from base, oldest first
func (h *Host) ListPullRequestCommits(ctx context.Context, repo providers.RepoRef, number int) ([]models.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	base, head, err := h.pullCommits(number)
	if err != nil {
		return nil, err
	}

	excluded := make(map[plumbing.Hash]struct{})
	baseIter, err := h.repo.Log(&git.LogOptions{From: base.Hash})
	if err != nil {
		return nil, err
	}
	err = baseIter.ForEach(func(c *object.Commit) error {
		excluded[c.Hash] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// post-order yields parents before children
	headIter, err := h.repo.Log(&git.LogOptions{From: head.Hash, Order: git.LogOrderDFSPost})
	if err != nil {
		return nil, err
	}
	var out []models.CommitInfo
	err = headIter.ForEach(func(c *object.Commit) error {
		if _, skip := excluded[c.Hash]; skip {
			return nil
		}
		out = append(out, commitInfo(c))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Host) GetFileContent(ctx context.Context, repo providers.RepoRef, path, ref string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hash, err := h.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	commit, err := h.repo.CommitObject(*hash)
	if err != nil {
		return "", err
	}
	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("%s at %s: %w", path, ref, providers.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return file.Contents()
}

func (h *Host) GetBranchTip(ctx context.Context, repo providers.RepoRef, branch string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hash, err := h.tip(branch)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (h *Host) GetCommit(ctx context.Context, repo providers.RepoRef, sha string) (*models.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.repo.CommitObject(plumbing.NewHash(sha))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("commit %s: %w", sha, providers.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	info := commitInfo(c)
	return &info, nil
}

func (h *Host) GetTree(ctx context.Context, repo providers.RepoRef, treeSHA string) ([]models.TreeElement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.flatten(treeSHA)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]models.TreeElement, 0, len(paths))
	for _, p := range paths {
		e := entries[p]
		sha := e.Hash.String()
		out = append(out, models.TreeElement{
			Path: p,
			Mode: modeString(e.Mode),
			Type: entryType(e.Mode),
			SHA:  &sha,
		})
	}
	return out, nil
}

func (h *Host) CreateBlob(ctx context.Context, repo providers.RepoRef, content string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj := h.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	hash, err := h.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return hash.String(), nil
}

func (h *Host) CreateTree(ctx context.Context, repo providers.RepoRef, baseTree string, elements []models.TreeElement) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make(map[string]object.TreeEntry)
	if baseTree != "" {
		var err error
		if entries, err = h.flatten(baseTree); err != nil {
			return "", err
		}
	}

	for _, e := range elements {
		path := strings.Trim(e.Path, "/")
		if path == "" {
			return "", fmt.Errorf("empty tree element path")
		}
		if e.SHA == nil {
			delete(entries, path)
			continue
		}
		if e.Type == models.TypeTree {
			return "", fmt.Errorf("%s: tree elements are not supported", path)
		}
		mode, err := filemode.New(e.Mode)
		if err != nil {
			return "", fmt.Errorf("%s: invalid mode %q: %w", path, e.Mode, err)
		}
		hash := plumbing.NewHash(*e.SHA)
		if mode != filemode.Submodule {
			if _, err := h.repo.Storer.EncodedObject(plumbing.BlobObject, hash); err != nil {
				return "", fmt.Errorf("%s: blob %s: %w", path, *e.SHA, err)
			}
		}
		entries[path] = object.TreeEntry{Name: path, Mode: mode, Hash: hash}
	}

	if err := checkCollisions(entries); err != nil {
		return "", err
	}
	hash, err := h.writeTree(entries)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (h *Host) CreateCommit(ctx context.Context, repo providers.RepoRef, message, treeSHA string, parents []string, author *models.Signature) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	treeHash := plumbing.NewHash(treeSHA)
	if _, err := h.repo.TreeObject(treeHash); err != nil {
		return "", fmt.Errorf("tree %s: %w", treeSHA, err)
	}

	sig := h.Signature
	sig.When = h.now()
	authorSig := sig
	if author != nil {
		authorSig = object.Signature{Name: author.Name, Email: author.Email, When: author.When}
		if authorSig.When.IsZero() {
			authorSig.When = sig.When
		}
	}
	commit := &object.Commit{
		Author:    authorSig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	for _, p := range parents {
		hash := plumbing.NewHash(p)
		if _, err := h.repo.CommitObject(hash); err != nil {
			return "", fmt.Errorf("parent %s: %w", p, err)
		}
		commit.ParentHashes = append(commit.ParentHashes, hash)
	}

	obj := h.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", err
	}
	hash, err := h.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("failed to store commit: %w", err)
	}
	return hash.String(), nil
}

func (h *Host) UpdateRef(ctx context.Context, repo providers.RepoRef, branch, sha, expectedOld string, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := plumbing.NewBranchReferenceName(branch)
	newHash := plumbing.NewHash(sha)
	newCommit, err := h.repo.CommitObject(newHash)
	if err != nil {
		return fmt.Errorf("commit %s: %w", sha, err)
	}

	current, err := h.repo.Storer.Reference(name)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return err
	}

	if !force && current != nil && current.Hash() != newHash {
		currentCommit, err := h.repo.CommitObject(current.Hash())
		if err != nil {
			return err
		}
		ok, err := currentCommit.IsAncestor(newCommit)
		if err != nil {
			return err
		}
		if !ok {
			return models.Newf(models.ErrRefUpdateConflict, "update ref", "branch %s: %s is not a fast-forward of %s",
				branch, short(sha), short(current.Hash().String()))
		}
	}

	ref := plumbing.NewHashReference(name, newHash)
	if expectedOld == "" {
		return h.repo.Storer.SetReference(ref)
	}
	old := plumbing.NewHashReference(name, plumbing.NewHash(expectedOld))
	if err := h.repo.Storer.CheckAndSetReference(ref, old); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return models.Wrap(models.ErrRefUpdateConflict, "update ref", fmt.Errorf("branch %s: %w", branch, err))
		}
		return err
	}
	return nil
}

// CommitFiles commits changes on top of branch and advances it. A nil content deletes the path.
// A missing branch is created with a root commit.
func (h *Host) CommitFiles(ctx context.Context, branch, message string, files map[string]*string) (string, error) {
	var parents []string
	var baseTree string
	tip, err := h.GetBranchTip(ctx, providers.RepoRef{}, branch)
	switch {
	case err == nil:
		parent, err := h.GetCommit(ctx, providers.RepoRef{}, tip)
		if err != nil {
			return "", err
		}
		parents = []string{tip}
		baseTree = parent.TreeSHA
	case !errors.Is(err, providers.ErrNotFound):
		return "", err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	elements := make([]models.TreeElement, 0, len(files))
	for _, p := range paths {
		el := models.TreeElement{Path: p, Mode: models.ModeFile, Type: models.TypeBlob}
		if content := files[p]; content != nil {
			sha, err := h.CreateBlob(ctx, providers.RepoRef{}, *content)
			if err != nil {
				return "", err
			}
			el.SHA = &sha
		}
		elements = append(elements, el)
	}

	tree, err := h.CreateTree(ctx, providers.RepoRef{}, baseTree, elements)
	if err != nil {
		return "", err
	}
	sha, err := h.CreateCommit(ctx, providers.RepoRef{}, message, tree, parents, nil)
	if err != nil {
		return "", err
	}
	if err := h.UpdateRef(ctx, providers.RepoRef{}, branch, sha, tip, false); err != nil {
		return "", err
	}
	return sha, nil
}

// CreateBranch points a new branch at sha
func (h *Host) CreateBranch(branch, sha string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), plumbing.NewHash(sha)))
}

func (h *Host) tip(branch string) (plumbing.Hash, error) {
	ref, err := h.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("branch %s: %w", branch, providers.ErrNotFound)
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

func (h *Host) pullCommits(number int) (*object.Commit, *object.Commit, error) {
	spec, ok := h.pulls[number]
	if !ok {
		return nil, nil, fmt.Errorf("pull request #%d: %w", number, providers.ErrNotFound)
	}
	baseHash, err := h.tip(spec.Base)
	if err != nil {
		return nil, nil, err
	}
	headHash, err := h.tip(spec.Head)
	if err != nil {
		return nil, nil, err
	}
	base, err := h.repo.CommitObject(baseHash)
	if err != nil {
		return nil, nil, err
	}
	head, err := h.repo.CommitObject(headHash)
	if err != nil {
		return nil, nil, err
	}
	return base, head, nil
}

// flatten lists every non-tree entry under treeSHA keyed by full path
func (h *Host) flatten(treeSHA string) (map[string]object.TreeEntry, error) {
	tree, err := h.repo.TreeObject(plumbing.NewHash(treeSHA))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("tree %s: %w", treeSHA, providers.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	entries := make(map[string]object.TreeEntry)
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		entry.Name = name
		entries[name] = entry
	}
	return entries, nil
}

// writeTree stores the nested trees for a flat path map and returns the root hash
func (h *Host) writeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	children := make(map[string]map[string]object.TreeEntry)
	var own []object.TreeEntry

	for path, e := range entries {
		dir, rest, nested := strings.Cut(path, "/")
		if !nested {
			e.Name = path
			own = append(own, e)
			continue
		}
		if children[dir] == nil {
			children[dir] = make(map[string]object.TreeEntry)
		}
		children[dir][rest] = e
	}

	for dir, sub := range children {
		hash, err := h.writeTree(sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		own = append(own, object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: hash})
	}

	// git orders directories as if their name ended with a slash
	sort.Slice(own, func(i, j int) bool { return sortKey(own[i]) < sortKey(own[j]) })

	obj := h.repo.Storer.NewEncodedObject()
	if err := (&object.Tree{Entries: own}).Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return h.repo.Storer.SetEncodedObject(obj)
}

// checkCollisions rejects a path that would be both a file and a directory
func checkCollisions(entries map[string]object.TreeEntry) error {
	for p := range entries {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, ok := entries[dir]; ok {
				return fmt.Errorf("%s: parent %s is a file", p, dir)
			}
		}
	}
	return nil
}

func sortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func commitInfo(c *object.Commit) models.CommitInfo {
	info := models.CommitInfo{
		SHA:     c.Hash.String(),
		Message: c.Message,
		TreeSHA: c.TreeHash.String(),
		Author:  &models.Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
	}
	for _, p := range c.ParentHashes {
		info.Parents = append(info.Parents, p.String())
	}
	return info
}

func modeString(m filemode.FileMode) string {
	switch m {
	case filemode.Regular, filemode.Deprecated:
		return models.ModeFile
	case filemode.Executable:
		return models.ModeExecutable
	case filemode.Symlink:
		return models.ModeSymlink
	case filemode.Submodule:
		return models.ModeSubmodule
	case filemode.Dir:
		return models.ModeDir
	}
	return fmt.Sprintf("%06o", uint32(m))
}

func entryType(m filemode.FileMode) string {
	if m == filemode.Submodule {
		return models.TypeCommit
	}
	return models.TypeBlob
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
