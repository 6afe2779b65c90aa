package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// taskDirectory is a fake service holding tasks by id and recording cancel
// calls.
type taskDirectory struct {
	mu        sync.Mutex
	states    map[string]string
	names     map[string]string
	cancelled []string
}

func (d *taskDirectory) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		tasks := make([]map[string]any, 0, len(d.states))
		for id, state := range d.states {
			tasks = append(tasks, map[string]any{"id": id, "state": state, "name": d.names[id]})
		}
		json.NewEncoder(w).Encode(map[string]any{"tasks": tasks})
	})
	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		id := r.PathValue("id")
		state, ok := d.states[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": id, "state": state})
	})
	mux.HandleFunc("POST /v1/tasks/{op}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		op := r.PathValue("op")
		// The cancel operation arrives as "<id>:cancel".
		if id, found := strings.CutSuffix(op, ":cancel"); found {
			d.cancelled = append(d.cancelled, id)
			w.Write([]byte("{}"))
			return
		}
		http.NotFound(w, r)
	})
	return mux
}

func TestStopCancelsActiveTasks(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{"task-1": "RUNNING"}}
	a, _ := newTestApp(t, dir.handler())

	code := a.stopTasks(context.Background(), &stopOptions{}, []string{"task-1"})

	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"task-1"}, dir.cancelled)
}

func TestStopLeavesTerminalTasksAlone(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{"task-1": "COMPLETE"}}
	a, _ := newTestApp(t, dir.handler())

	code := a.stopTasks(context.Background(), &stopOptions{}, []string{"task-1"})

	assert.Equal(t, 0, code)
	assert.Empty(t, dir.cancelled)
}

func TestStopUnknownTaskFails(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{}}
	a, _ := newTestApp(t, dir.handler())

	code := a.stopTasks(context.Background(), &stopOptions{}, []string{"ghost"})

	assert.Equal(t, 1, code)
	assert.Empty(t, dir.cancelled)
}

func TestRemoveCancelsActiveTask(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{"task-1": "QUEUED"}}
	a, _ := newTestApp(t, dir.handler())

	code := a.removeTasks(context.Background(), &rmOptions{}, []string{"task-1"})

	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"task-1"}, dir.cancelled)
}

func TestRemoveResolvesTaskByName(t *testing.T) {
	dir := &taskDirectory{
		states: map[string]string{"task-9": "RUNNING"},
		names:  map[string]string{"task-9": "mytask"},
	}
	a, _ := newTestApp(t, dir.handler())

	code := a.removeTasks(context.Background(), &rmOptions{}, []string{"mytask"})

	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"task-9"}, dir.cancelled)
}

func TestRemoveTerminalTaskWithoutForceIsNoop(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{"task-1": "COMPLETE"}}
	a, _ := newTestApp(t, dir.handler())

	code := a.removeTasks(context.Background(), &rmOptions{}, []string{"task-1"})

	assert.Equal(t, 0, code)
	assert.Empty(t, dir.cancelled)
}

func TestRemoveForceCancelsTerminalTask(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{"task-1": "EXECUTOR_ERROR"}}
	a, _ := newTestApp(t, dir.handler())

	code := a.removeTasks(context.Background(), &rmOptions{force: true}, []string{"task-1"})

	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"task-1"}, dir.cancelled)
}

func TestRemoveUnknownTaskFails(t *testing.T) {
	dir := &taskDirectory{states: map[string]string{}}
	a, _ := newTestApp(t, dir.handler())

	code := a.removeTasks(context.Background(), &rmOptions{}, []string{"ghost"})

	assert.Equal(t, 1, code)
}
