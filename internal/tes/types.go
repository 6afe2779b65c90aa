// Package tes is a minimal client for the GA4GH Task Execution Service
// (TES) v1 HTTP API, covering the subset of operations the proxy needs:
// create, get, list, cancel, and wait.
package tes

import "time"

// State is the lifecycle state of a task as reported by the service.
type State string

const (
	StateUnknown       State = "UNKNOWN"
	StateQueued        State = "QUEUED"
	StateInitializing  State = "INITIALIZING"
	StateRunning       State = "RUNNING"
	StatePaused        State = "PAUSED"
	StateComplete      State = "COMPLETE"
	StateExecutorError State = "EXECUTOR_ERROR"
	StateSystemError   State = "SYSTEM_ERROR"
	StateCanceling     State = "CANCELING"
	StateCanceled      State = "CANCELED"
	StatePreempted     State = "PREEMPTED"
)

// Terminal reports whether the state is final, i.e. the service will never
// transition the task out of it.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateExecutorError, StateSystemError, StateCanceled:
		return true
	}
	return false
}

// Active reports whether the task can still be cancelled.
func (s State) Active() bool {
	switch s {
	case StateQueued, StateInitializing, StateRunning, StatePaused, StatePreempted:
		return true
	}
	return false
}

// View selects how much detail GetTask returns.
type View string

const (
	// ViewMinimal returns only the task ID and state.
	ViewMinimal View = "MINIMAL"
	// ViewBasic returns everything except large fields such as captured
	// stdout/stderr bodies.
	ViewBasic View = "BASIC"
	// ViewFull returns the complete task record, including captured
	// stdout/stderr.
	ViewFull View = "FULL"
)

// FileType distinguishes file and directory transfers.
type FileType string

const (
	TypeFile      FileType = "FILE"
	TypeDirectory FileType = "DIRECTORY"
)

// Task is a unit of remote work consisting of one or more executors.
// Immutable once submitted.
type Task struct {
	ID           string            `json:"id,omitempty"`
	State        State             `json:"state,omitempty"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Executors    []Executor        `json:"executors"`
	Inputs       []Input           `json:"inputs,omitempty"`
	Outputs      []Output          `json:"outputs,omitempty"`
	Resources    *Resources        `json:"resources,omitempty"`
	Volumes      []string          `json:"volumes,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	CreationTime *time.Time        `json:"creation_time,omitempty"`
	Logs         []TaskLog         `json:"logs,omitempty"`
}

// Executor is one command execution within a task.
type Executor struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Input is a file or directory the service stages into the task before it
// runs.
type Input struct {
	URL  string   `json:"url,omitempty"`
	Path string   `json:"path"`
	Type FileType `json:"type,omitempty"`
}

// Output is a file or directory the service uploads once the task finishes.
type Output struct {
	URL  string   `json:"url"`
	Path string   `json:"path"`
	Type FileType `json:"type,omitempty"`
}

// Resources are the compute requirements requested for a task.
type Resources struct {
	CPUCores int     `json:"cpu_cores,omitempty"`
	RAMGB    float64 `json:"ram_gb,omitempty"`
	DiskGB   float64 `json:"disk_gb,omitempty"`
	Preempt  bool    `json:"preemptible,omitempty"`
}

// TaskLog records one attempt at running a task. Each attempt carries one
// executor log per executor that ran.
type TaskLog struct {
	Logs      []ExecutorLog `json:"logs"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
}

// ExecutorLog is the recorded outcome of one executor run. ExitCode is a
// pointer because the service omits it until the executor has exited.
type ExecutorLog struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// ListTasksResponse is one page of tasks.
type ListTasksResponse struct {
	Tasks         []Task `json:"tasks"`
	NextPageToken string `json:"next_page_token,omitempty"`
}
