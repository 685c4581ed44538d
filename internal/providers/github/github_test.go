package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prmerge/internal/providers"
	"github.com/prmerge/internal/retry"
	"github.com/prmerge/pkg/models"
)

var testRepo = providers.RepoRef{Owner: "octo", Name: "demo"}

func newTestProvider(t *testing.T, mux *http.ServeMux) *GitHubProvider {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	fast := retry.HostRetryConfig()
	fast.BaseDelay = time.Millisecond
	fast.MaxDelay = 5 * time.Millisecond

	p, err := New(GitHubConfig{
		Token:             "test-token",
		BaseURL:           server.URL + "/",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Retry:             &fast,
	})
	require.NoError(t, err)
	return p
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(GitHubConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestGetPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"number": 7, "title": "Add feature", "body": "desc", "state": "open",
			"user": {"login": "alice"},
			"base": {"ref": "main", "sha": "b1"},
			"head": {"ref": "feature", "sha": "h1", "repo": {"name": "demo-fork", "owner": {"login": "alice"}}}
		}`)
	})

	pr, err := newTestProvider(t, mux).GetPullRequest(t.Context(), testRepo, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "Add feature", pr.Title)
	assert.Equal(t, "alice", pr.Author)
	assert.Equal(t, "main", pr.BaseRef)
	assert.Equal(t, "b1", pr.BaseSHA)
	assert.Equal(t, "feature", pr.HeadRef)
	assert.Equal(t, "h1", pr.HeadSHA)
	assert.Equal(t, providers.RepoRef{Owner: "alice", Name: "demo-fork"}, pr.HeadRepo)
}

func TestListChangedFiles_FollowsPagination(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/pulls/3/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"filename": "c.go", "status": "removed"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/octo/demo/pulls/3/files?page=2>; rel="next"`, server.URL))
		fmt.Fprint(w, `[
			{"filename": "a.go", "status": "modified", "patch": "@@ -1 +1 @@"},
			{"filename": "b.go", "status": "renamed", "previous_filename": "old_b.go"}
		]`)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	p, err := New(GitHubConfig{Token: "t", BaseURL: server.URL + "/", RequestsPerSecond: 1000})
	require.NoError(t, err)

	files, err := p.ListChangedFiles(t.Context(), testRepo, 3)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.go", files[0].Path)
	assert.Equal(t, "@@ -1 +1 @@", files[0].Patch)
	assert.Equal(t, "old_b.go", files[1].PreviousPath)
	assert.Equal(t, "removed", files[2].Status)
}

func TestGetFileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/contents/src/main.go", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "h1", r.URL.Query().Get("ref"))
		fmt.Fprint(w, `{"type": "file", "encoding": "base64", "content": "aGVsbG8K", "sha": "abc", "size": 6, "path": "src/main.go"}`)
	})

	content, err := newTestProvider(t, mux).GetFileContent(t.Context(), testRepo, "src/main.go", "h1")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", content)
}

func TestGetFileContent_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/contents/missing.go", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	_, err := newTestProvider(t, mux).GetFileContent(t.Context(), testRepo, "missing.go", "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetFileContent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/contents/flaky.go", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"message": "503 service unavailable"}`)
			return
		}
		fmt.Fprint(w, `{"type": "file", "encoding": "base64", "content": "b2sK", "sha": "x", "size": 3}`)
	})

	content, err := newTestProvider(t, mux).GetFileContent(t.Context(), testRepo, "flaky.go", "main")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetTree_SkipsTreeEntries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/trees/t1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{"sha": "t1", "truncated": false, "tree": [
			{"path": "src", "mode": "040000", "type": "tree", "sha": "d1"},
			{"path": "src/a.go", "mode": "100644", "type": "blob", "sha": "a1"},
			{"path": "run.sh", "mode": "100755", "type": "blob", "sha": "r1"}
		]}`)
	})

	elements, err := newTestProvider(t, mux).GetTree(t.Context(), testRepo, "t1")
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "src/a.go", elements[0].Path)
	assert.Equal(t, "a1", *elements[0].SHA)
	assert.Equal(t, models.ModeExecutable, elements[1].Mode)
}

func TestCreateTree_SendsNullSHAForDeletes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/trees", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var body struct {
			BaseTree string                   `json:"base_tree"`
			Tree     []map[string]interface{} `json:"tree"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "base", body.BaseTree)
		require.Len(t, body.Tree, 2)
		assert.Equal(t, "blob1", body.Tree[0]["sha"])
		sha, present := body.Tree[1]["sha"]
		assert.True(t, present)
		assert.Nil(t, sha)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha": "newtree"}`)
	})

	blob := "blob1"
	sha, err := newTestProvider(t, mux).CreateTree(t.Context(), testRepo, "base", []models.TreeElement{
		{Path: "a.go", Mode: models.ModeFile, Type: models.TypeBlob, SHA: &blob},
		{Path: "gone.go", Mode: models.ModeFile, Type: models.TypeBlob},
	})
	require.NoError(t, err)
	assert.Equal(t, "newtree", sha)
}

func TestCreateCommit(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
			Author  *struct {
				Name  string    `json:"name"`
				Email string    `json:"email"`
				Date  time.Time `json:"date"`
			} `json:"author"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "msg", body.Message)
		assert.Equal(t, "tree1", body.Tree)
		assert.Equal(t, []string{"p1"}, body.Parents)
		require.NotNil(t, body.Author)
		assert.Equal(t, "Ada", body.Author.Name)
		assert.Equal(t, "ada@example.com", body.Author.Email)
		assert.True(t, when.Equal(body.Author.Date))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha": "c1"}`)
	})

	author := &models.Signature{Name: "Ada", Email: "ada@example.com", When: when}
	sha, err := newTestProvider(t, mux).CreateCommit(t.Context(), testRepo, "msg", "tree1", []string{"p1"}, author)
	require.NoError(t, err)
	assert.Equal(t, "c1", sha)
}

func TestCreateCommit_NoAuthorLeavesIdentityToGitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "author")

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha": "c1"}`)
	})

	_, err := newTestProvider(t, mux).CreateCommit(t.Context(), testRepo, "msg", "tree1", []string{"p1"}, nil)
	require.NoError(t, err)
}

func TestUpdateRef_NotFastForwardIsConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/refs/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Update is not a fast forward"}`)
	})

	err := newTestProvider(t, mux).UpdateRef(t.Context(), testRepo, "feature", "c2", "c1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRefUpdateConflict)
}

func TestUpdateRef_ForceChecksExpectedTip(t *testing.T) {
	var patched atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/ref/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ref": "refs/heads/feature", "object": {"sha": "moved", "type": "commit"}}`)
	})
	mux.HandleFunc("/api/v3/repos/octo/demo/git/refs/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		patched.Store(true)
		fmt.Fprint(w, `{"ref": "refs/heads/feature", "object": {"sha": "c2"}}`)
	})

	err := newTestProvider(t, mux).UpdateRef(t.Context(), testRepo, "feature", "c2", "c1", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRefUpdateConflict)
	assert.False(t, patched.Load())
}

func TestGetCommit_ReadsAuthor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/demo/git/commits/c1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha": "c1", "message": "fix", "tree": {"sha": "t1"}, "parents": [{"sha": "p1"}],
			"author": {"name": "Ada", "email": "ada@example.com", "date": "2024-03-01T12:00:00Z"}}`)
	})

	c, err := newTestProvider(t, mux).GetCommit(t.Context(), testRepo, "c1")
	require.NoError(t, err)
	assert.Equal(t, "t1", c.TreeSHA)
	assert.Equal(t, []string{"p1"}, c.Parents)
	require.NotNil(t, c.Author)
	assert.Equal(t, "Ada", c.Author.Name)
	assert.Equal(t, "ada@example.com", c.Author.Email)
	assert.Equal(t, 2024, c.Author.When.Year())
}
