package tes

import "errors"

// ErrNoUsableLog reports that a finished task carried no log entry to
// extract an outcome from, which callers treat as a backend failure.
var ErrNoUsableLog = errors.New("task has no usable log entry")

// FinalExecutorLog returns the authoritative executor log of a finished
// task: the last executor log of the last task log. Tasks may be retried,
// so earlier attempts are ignored.
func FinalExecutorLog(task *Task) (*ExecutorLog, error) {
	if len(task.Logs) == 0 {
		return nil, ErrNoUsableLog
	}
	attempt := task.Logs[len(task.Logs)-1]
	if len(attempt.Logs) == 0 {
		return nil, ErrNoUsableLog
	}
	return &attempt.Logs[len(attempt.Logs)-1], nil
}
