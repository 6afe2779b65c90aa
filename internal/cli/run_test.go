package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inab/docker-tes-proxy/internal/config"
)

// newTestApp wires an App against a fake TES service and returns the app
// together with a request counter.
func newTestApp(t *testing.T, handler http.Handler) (*App, *int64) {
	t.Helper()

	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Endpoint = srv.URL
	return &App{cfg: cfg, logLevel: "info"}, &requests
}

// fakeTaskService answers create, wait, and fetch for a single task.
func fakeTaskService(t *testing.T, id string, exitCode int) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("GET /v1/tasks/"+id, func(w http.ResponseWriter, r *http.Request) {
		task := map[string]any{
			"id":    id,
			"state": "COMPLETE",
		}
		if r.URL.Query().Get("view") != "MINIMAL" {
			task["logs"] = []map[string]any{
				{"logs": []map[string]any{
					{"exit_code": exitCode},
				}},
			}
		}
		json.NewEncoder(w).Encode(task)
	})
	return mux
}

func TestRunWithoutCommandFailsLocally(t *testing.T) {
	a, requests := newTestApp(t, fakeTaskService(t, "task-1", 0))

	code := a.runTask(context.Background(), &runOptions{}, "alpine:latest", nil)

	assert.Equal(t, ExitUsage, code)
	assert.Zero(t, atomic.LoadInt64(requests), "no backend request may happen without a command")
}

func TestRunPassesExecutorExitCodeThrough(t *testing.T) {
	a, _ := newTestApp(t, fakeTaskService(t, "task-1", 137))

	code := a.runTask(context.Background(), &runOptions{}, "alpine:latest", []string{"false"})

	assert.Equal(t, 137, code)
}

func TestRunZeroExitCode(t *testing.T) {
	a, _ := newTestApp(t, fakeTaskService(t, "task-1", 0))

	code := a.runTask(context.Background(), &runOptions{}, "alpine:latest", []string{"true"})

	assert.Equal(t, 0, code)
}

func TestRunSubmissionFailure(t *testing.T) {
	a, _ := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad task", http.StatusBadRequest)
	}))

	code := a.runTask(context.Background(), &runOptions{}, "alpine:latest", []string{"true"})

	assert.Equal(t, ExitBackend, code)
}

func TestRunTaskWithoutUsableLog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "task-1"})
	})
	mux.HandleFunc("GET /v1/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "task-1", "state": "SYSTEM_ERROR"})
	})
	a, _ := newTestApp(t, mux)

	code := a.runTask(context.Background(), &runOptions{}, "alpine:latest", []string{"true"})

	assert.Equal(t, ExitBackend, code)
}

func TestRunDetachWritesCidfileAndReturnsEarly(t *testing.T) {
	a, requests := newTestApp(t, fakeTaskService(t, "task-42", 1))

	cidfile := filepath.Join(t.TempDir(), "cid")
	code := a.runTask(context.Background(), &runOptions{detach: true, cidfile: cidfile},
		"alpine:latest", []string{"sleep", "300"})

	assert.Equal(t, 0, code)
	data, err := os.ReadFile(cidfile)
	require.NoError(t, err)
	assert.Equal(t, "task-42", string(data))
	assert.EqualValues(t, 1, atomic.LoadInt64(requests), "detach must not wait on the task")
}

func TestRunMissingReadOnlyVolumeFails(t *testing.T) {
	a, requests := newTestApp(t, fakeTaskService(t, "task-1", 0))

	o := &runOptions{volumes: []string{filepath.Join(t.TempDir(), "absent") + ":/data:ro"}}
	code := a.runTask(context.Background(), o, "alpine:latest", []string{"true"})

	assert.Equal(t, ExitBackend, code)
	assert.Zero(t, atomic.LoadInt64(requests))
}

func TestRunUnwritableCidfileFails(t *testing.T) {
	a, requests := newTestApp(t, fakeTaskService(t, "task-1", 0))

	o := &runOptions{cidfile: filepath.Join(t.TempDir(), "no", "such", "dir", "cid")}
	code := a.runTask(context.Background(), o, "alpine:latest", []string{"true"})

	assert.Equal(t, ExitBackend, code)
	assert.Zero(t, atomic.LoadInt64(requests))
}

func TestCollectVolumeSpecs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		opts   runOptions
		want   []volumeSpec
		errors bool
	}{
		{
			name: "full triple",
			opts: runOptions{volumes: []string{"/host/data:/data:ro"}},
			want: []volumeSpec{{hostPath: "/host/data", taskPath: "/data", readOnly: true}},
		},
		{
			name: "pair defaults to writable",
			opts: runOptions{volumes: []string{"/host/out:/out"}},
			want: []volumeSpec{{hostPath: "/host/out", taskPath: "/out"}},
		},
		{
			name: "single element mirrors the host path",
			opts: runOptions{volumes: []string{"/host/shared"}},
			want: []volumeSpec{{hostPath: "/host/shared", taskPath: "/host/shared"}},
		},
		{
			name: "bind mount",
			opts: runOptions{mounts: []string{"type=bind,source=/host/in,target=/in,readonly"}},
			want: []volumeSpec{{hostPath: "/host/in", taskPath: "/in", readOnly: true}},
		},
		{
			name: "non-bind mount is skipped",
			opts: runOptions{mounts: []string{"type=tmpfs,target=/scratch"}},
			want: nil,
		},
		{
			name:   "bind mount without source",
			opts:   runOptions{mounts: []string{"type=bind,target=/in"}},
			errors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectVolumeSpecs(ctx, &tt.opts)
			if tt.errors {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskResources(t *testing.T) {
	tests := []struct {
		name    string
		opts    runOptions
		wantCPU int
		wantRAM float64
		wantNil bool
		wantErr bool
	}{
		{name: "nothing requested", wantNil: true},
		{name: "cpu count", opts: runOptions{cpuCount: 4}, wantCPU: 4},
		{name: "fractional cpus round", opts: runOptions{cpus: 1.7}, wantCPU: 2},
		{name: "strongest cpu demand wins", opts: runOptions{cpuCount: 1, cpus: 3.2}, wantCPU: 3},
		{name: "memory in gigabytes", opts: runOptions{memory: "1g"}, wantRAM: 1},
		{name: "memory in megabytes", opts: runOptions{memory: "512m"}, wantRAM: 0.5},
		{name: "swap dominates memory", opts: runOptions{memory: "1g", memorySwap: "2g"}, wantRAM: 2},
		{name: "garbage memory", opts: runOptions{memory: "lots"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := taskResources(&tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCPU, got.CPUCores)
			assert.InDelta(t, tt.wantRAM, got.RAMGB, 1e-9)
		})
	}
}
