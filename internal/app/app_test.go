package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/deepseek-pow/internal/config"
	"github.com/woxQAQ/deepseek-pow/internal/pow"
	"github.com/woxQAQ/deepseek-pow/internal/wasmtest"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "solver.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Module(), 0o644))

	return &config.Config{
		LogLevel: "debug",
		Wasm: config.WasmConfig{
			MemoryPages:      16,
			ExecutionTimeout: 10 * time.Second,
			ModulePath:       path,
			Algorithm:        pow.DefaultAlgorithm,
		},
		Pow: config.PowConfig{
			SupportedAlgorithms: []string{pow.DefaultAlgorithm},
			TargetPath:          "/api/v0/chat/completion",
		},
		Client: config.ClientConfig{
			BaseURL: baseURL,
			Token:   "tok",
			Timeout: 5 * time.Second,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	ctx := context.Background()
	a, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	return a
}

func decodeResponses(t *testing.T, out string) []Response {
	t.Helper()

	var responses []Response
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		responses = append(responses, r)
	}
	require.NoError(t, scanner.Err())
	return responses
}

func TestServeStdio(t *testing.T) {
	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))

	input := strings.Join([]string{
		`{"algorithm":"DeepSeekHashV1","challenge":"abc","salt":"s1","difficulty":100000,"expire_at":1700000000,"signature":"sig","target_path":"/t"}`,
		``,
		`not json`,
		`{"algorithm":"SHA256","challenge":"abc","salt":"s1","difficulty":1,"expire_at":1,"signature":"sig","target_path":"/t"}`,
		`{"algorithm":"DeepSeekHashV1","challenge":"zz","salt":"s2","difficulty":0,"expire_at":5,"signature":"sig","target_path":"/t"}`,
	}, "\n")

	var out strings.Builder
	require.NoError(t, a.ServeStdio(context.Background(), strings.NewReader(input), &out))

	responses := decodeResponses(t, out.String())
	require.Len(t, responses, 4)

	require.Empty(t, responses[0].Error)
	answer, err := pow.DecodeAnswer(responses[0].Answer)
	require.NoError(t, err)
	_, want := wasmtest.Expected("abc", "s1_1700000000_", 100000)
	assert.Equal(t, want, answer.Answer)
	assert.Equal(t, "100000", answer.Difficulty.String())

	assert.Contains(t, responses[1].Error, "invalid challenge")
	assert.Contains(t, responses[2].Error, "unsupported algorithm")
	assert.Contains(t, responses[3].Error, "no solution")
	assert.Empty(t, responses[3].Answer)
}

func TestServeStdioCanceled(t *testing.T) {
	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.ServeStdio(ctx, pr, io.Discard)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not return after cancellation")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetPath string `json:"target_path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "/api/v0/chat/completion", req.TargetPath)

		_, _ = io.WriteString(w, `{"code":0,"msg":"","data":{"biz_code":0,"biz_msg":"","biz_data":{"challenge":{
			"algorithm":"DeepSeekHashV1","challenge":"abc","salt":"s1","difficulty":100000,
			"expire_at":1700000000,"signature":"sig","target_path":"/api/v0/chat/completion"}}}}`)
	}))
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL))

	encoded, err := a.Fetch(context.Background(), "")
	require.NoError(t, err)

	answer, err := pow.DecodeAnswer(encoded)
	require.NoError(t, err)
	_, want := wasmtest.Expected("abc", "s1_1700000000_", 100000)
	assert.Equal(t, want, answer.Answer)
	assert.Equal(t, "sig", answer.Signature)
}

func TestServeMetricsDisabled(t *testing.T) {
	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))
	assert.NoError(t, a.ServeMetrics(context.Background()))

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewFailsWithoutSolvers(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Wasm.ModulePath = filepath.Join(t.TempDir(), "missing.wasm")

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}
