package gateway

import (
	"context"
	"encoding/base64"
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
)

var testRef = Reference{Owner: "octo", Repo: "repo", Number: 12}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fileContent(content string) map[string]interface{} {
	return map[string]interface{}{
		"type":     "file",
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

func newTestGateway(t *testing.T, mux *http.ServeMux, opts ...Option) *GitHubGateway {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithRetryConfig(RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}),
	}, opts...)
	g, err := NewGitHubGateway(context.Background(), "test-token", opts...)
	require.NoError(t, err)
	return g
}

func TestFetchChangedFiles_HeadRevisionAndFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/pulls/12", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]interface{}{
			"number": 12,
			"head":   map[string]interface{}{"sha": "headsha"},
			"base":   map[string]interface{}{"sha": "basesha"},
		})
	})
	mux.HandleFunc("GET /repos/octo/repo/pulls/12/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s?page=2>; rel="next"`, r.Host, r.URL.Path))
			writeJSON(w, 200, []map[string]interface{}{
				{"filename": "calc.py", "status": "modified"},
				{"filename": "README.md", "status": "modified"},
			})
			return
		}
		writeJSON(w, 200, []map[string]interface{}{
			{"filename": "old.py", "status": "removed"},
			{"filename": "pkg/util.py", "status": "added"},
		})
	})
	mux.HandleFunc("GET /repos/octo/repo/contents/calc.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "headsha", r.URL.Query().Get("ref"))
		writeJSON(w, 200, fileContent("def divide(a, b):\n    return a / b\n"))
	})
	mux.HandleFunc("GET /repos/octo/repo/contents/pkg/util.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "headsha", r.URL.Query().Get("ref"))
		writeJSON(w, 200, fileContent("X = 1\n"))
	})

	g := newTestGateway(t, mux)
	files, err := g.FetchChangedFiles(context.Background(), testRef)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, File{Path: "calc.py", Content: "def divide(a, b):\n    return a / b\n"}, files[0])
	assert.Equal(t, File{Path: "pkg/util.py", Content: "X = 1\n"}, files[1])
}

func TestFetchChangedFiles_NoMatchingFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/pulls/12", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"head": map[string]interface{}{"sha": "h"}})
	})
	mux.HandleFunc("GET /repos/octo/repo/pulls/12/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]interface{}{{"filename": "main.go", "status": "modified"}})
	})

	files, err := newTestGateway(t, mux).FetchChangedFiles(context.Background(), testRef)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFetchChangedFiles_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"bad credential", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"missing", http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/octo/repo/pulls/12", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, map[string]string{"message": http.StatusText(tt.status)})
			})

			_, err := newTestGateway(t, mux).FetchChangedFiles(context.Background(), testRef)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestFetchChangedFiles_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/pulls/12", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": "bad gateway"})
			return
		}
		writeJSON(w, 200, map[string]interface{}{"head": map[string]interface{}{"sha": "h"}})
	})
	mux.HandleFunc("GET /repos/octo/repo/pulls/12/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]interface{}{})
	})

	files, err := newTestGateway(t, mux).FetchChangedFiles(context.Background(), testRef)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostComment_ExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/repo/issues/12/comments", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var c map[string]string
		assert.NoError(t, json.Unmarshal(body, &c))
		assert.Equal(t, "## report", c["body"])
		writeJSON(w, 201, map[string]interface{}{"id": 99, "html_url": "https://github.com/octo/repo/pull/12#issuecomment-99"})
	})

	c, err := newTestGateway(t, mux).PostComment(context.Background(), testRef, "## report")
	require.NoError(t, err)
	assert.Equal(t, int64(99), c.ID)
	assert.Contains(t, c.URL, "issuecomment-99")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostComment_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/repo/issues/12/comments", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	})

	_, err := newTestGateway(t, mux).PostComment(context.Background(), testRef, "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostComment_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/repo/issues/12/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})

	_, err := newTestGateway(t, mux).PostComment(context.Background(), testRef, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAndEditComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/issues/12/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]interface{}{
			{"id": 1, "body": "looks good"},
			{"id": 2, "body": "<!-- autodevops:report -->\nold", "html_url": "u2"},
			{"id": 3, "body": "<!-- autodevops:report -->\nnewer", "html_url": "u3"},
		})
	})
	mux.HandleFunc("PATCH /repos/octo/repo/issues/comments/3", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"id": 3, "html_url": "u3"})
	})

	g := newTestGateway(t, mux)
	c, err := g.FindComment(context.Background(), testRef, "<!-- autodevops:report -->")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(3), c.ID)

	edited, err := g.EditComment(context.Background(), testRef, c.ID, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "u3", edited.URL)

	none, err := g.FindComment(context.Background(), testRef, "absent-marker")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestNewGitHubGateway_RequiresToken(t *testing.T) {
	_, err := NewGitHubGateway(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestMatches(t *testing.T) {
	g := &GitHubGateway{extensions: []string{".py"}}
	assert.True(t, g.matches("a/b/c.py"))
	assert.True(t, g.matches("UPPER.PY"))
	assert.False(t, g.matches("c.pyc"))
	assert.False(t, g.matches("py"))
}
