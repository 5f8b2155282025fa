package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autodevops/internal/config"
)

func TestPrompt_Render(t *testing.T) {
	p := Prompt{
		Role:         "Senior Python Developer",
		Instructions: "  Review the files.  ",
		Context: []Section{
			{Title: "source files", Body: "print('hi')"},
			{Title: "Lint Findings", Body: "none\n"},
		},
	}

	want := "You are a Senior Python Developer.\n\n" +
		"Review the files.\n" +
		"\n===== BEGIN SOURCE FILES =====\nprint('hi')\n===== END SOURCE FILES =====\n" +
		"\n===== BEGIN LINT FINDINGS =====\nnone\n===== END LINT FINDINGS =====\n"

	assert.Equal(t, want, p.Render())
	assert.Equal(t, p.Render(), p.Render(), "rendering is deterministic")
}

// geminiServer fakes the generateContent and models endpoints.
func geminiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestInvoker(t *testing.T, url string, timeout time.Duration) *GeminiInvoker {
	t.Helper()
	inv, err := NewGeminiInvoker(context.Background(), GeminiConfig{
		APIKey:         config.Secret("test-key"),
		BaseURL:        url,
		Timeout:        timeout,
		RequestsPerSec: 100,
		Burst:          10,
	}, nil)
	require.NoError(t, err)
	return inv
}

func candidate(text string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"role":  "model",
					"parts": []interface{}{map[string]interface{}{"text": text}},
				},
			},
		},
	}
}

func TestGeminiInvoker_Invoke(t *testing.T) {
	var gotBody string
	var gotPath string
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(candidate("looks good"))
	})

	inv := newTestInvoker(t, srv.URL, 5*time.Second)
	out, err := inv.Invoke(context.Background(), Prompt{Role: "Reviewer", Instructions: "check calc.py"})
	require.NoError(t, err)

	assert.Equal(t, "looks good", out)
	assert.Contains(t, gotPath, DefaultModel+":generateContent")
	assert.Contains(t, gotBody, "check calc.py")
}

func TestGeminiInvoker_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
			},
		},
		{
			name: "rejected credential",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
			},
		},
		{
			name: "empty candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"candidates":[]}`))
			},
		},
		{
			name: "blocked prompt",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			})

			inv := newTestInvoker(t, srv.URL, 5*time.Second)
			_, err := inv.Invoke(context.Background(), Prompt{Role: "Reviewer", Instructions: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrService)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no retry in the invoker")
		})
	}
}

func TestGeminiInvoker_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	inv := newTestInvoker(t, srv.URL, 100*time.Millisecond)
	_, err := inv.Invoke(context.Background(), Prompt{Instructions: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrService)
	assert.Contains(t, err.Error(), "timed out")
}

func TestGeminiInvoker_CanceledContextIsNotServiceError(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	inv := newTestInvoker(t, srv.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Invoke(ctx, Prompt{Instructions: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrService))
}

func TestGeminiInvoker_ListModels(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[
			{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/gemini-2.5-flash","displayName":"Gemini 2.5 Flash","supportedGenerationMethods":["generateContent"]}
		]}`))
	})

	inv := newTestInvoker(t, srv.URL, time.Second)
	models, err := inv.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "models/gemini-2.5-pro", models[0].Name)
	assert.Equal(t, []string{"generateContent", "countTokens"}, models[0].Actions)
	assert.Equal(t, "Gemini 2.5 Flash", models[1].DisplayName)
}

func TestNewGeminiInvoker_RequiresKey(t *testing.T) {
	_, err := NewGeminiInvoker(context.Background(), GeminiConfig{}, nil)
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted().
		OnText("Reviewer", "first", "second").
		On("Auditor", Reply{Err: boom})

	ctx := context.Background()
	out, err := s.Invoke(ctx, Prompt{Role: "Reviewer"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = s.Invoke(ctx, Prompt{Role: "Reviewer"})
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	out, err = s.Invoke(ctx, Prompt{Role: "Reviewer"})
	require.NoError(t, err)
	assert.Equal(t, "second", out, "last reply repeats")

	_, err = s.Invoke(ctx, Prompt{Role: "Auditor"})
	assert.ErrorIs(t, err, boom)

	_, err = s.Invoke(ctx, Prompt{Role: "Unknown"})
	assert.ErrorIs(t, err, ErrService)

	s.Fallback(func(p Prompt) Reply { return Reply{Text: "fallback for " + p.Role} })
	out, err = s.Invoke(ctx, Prompt{Role: "Unknown"})
	require.NoError(t, err)
	assert.Equal(t, "fallback for Unknown", out)

	assert.Len(t, s.Calls(), 6)
	assert.Len(t, s.CallsFor("Reviewer"), 3)
}
