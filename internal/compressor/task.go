package compressor

import "context"

// Job describes one compression to run in the background.
type Job struct {
	ID         string
	SourcePath string
	OutputPath string
	Request    CompressionRequest
}

// Task is a handle on a compression running on its own goroutine.
type Task struct {
	Job    Job
	cancel context.CancelFunc
	done   chan struct{}
	result CompressionResult
}

// Start runs job on a new goroutine. onProgress is invoked on that goroutine;
// callers that own a UI loop marshal it themselves.
func Start(ctx context.Context, c Compressor, job Job, onProgress ProgressFunc) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		Job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result = c.Compress(ctx, job.SourcePath, job.OutputPath, job.Request, onProgress)
	}()
	return t
}

// Done is closed once the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task has not finished yet.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Cancel asks the running compression to stop before its next trial.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() CompressionResult {
	<-t.done
	return t.result
}
