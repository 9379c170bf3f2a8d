package aireview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
	"github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: "gpt-4o-mini"}
}

func chatCompletionWith(t *testing.T, content any) []byte {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": string(raw)},
				"finish_reason": "stop",
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestAnalyzeNormalizesModelFindings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionWith(t, map[string]any{
			"findings": []map[string]any{
				{"file": "", "severity": "critical", "title": "", "start_line": 3, "end_line": 4},
			},
		}))
	})

	out, err := c.Analyze(context.Background(), analyzer.Input{
		RepoFullName: "acme/api",
		Files:        []analyzer.ChangedFile{{Path: "db.go", Status: "modified", Content: "package db"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "db.go", out[0].File) // backfilled from the reviewed path
	assert.Equal(t, reviews.SeverityHigh, out[0].Severity)
	assert.Equal(t, "AI suggestion", out[0].Title)
	assert.Equal(t, reviews.ToolAI, out[0].Tool)
}

func TestAnalyzeToleratesPerFileFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionWith(t, map[string]any{
			"findings": []map[string]any{
				{"file": "a.go", "severity": "medium", "title": "Unchecked error", "start_line": 1, "end_line": 1},
			},
		}))
	})

	out, err := c.Analyze(context.Background(), analyzer.Input{
		RepoFullName: "acme/api",
		Files: []analyzer.ChangedFile{
			{Path: "a.go", Status: "modified", Content: "package a"},
			{Path: "b.go", Status: "modified", Content: "package b"},
			{Path: "c.go", Status: "modified", Content: "package c"},
		},
	})

	// the second file fails, the first and third still land
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reviewing b.go")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, out, 2)
}

func TestAnalyzeSkipsFilesWithoutContent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatCompletionWith(t, map[string]any{"findings": []map[string]any{}}))
	})

	out, err := c.Analyze(context.Background(), analyzer.Input{
		RepoFullName: "acme/api",
		Files:        []analyzer.ChangedFile{{Path: "bin.dat", Status: "removed"}},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
