package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"image-compressor-go/internal/compressor"
)

// maxErrors bounds the error log kept in memory.
const maxErrors = 100

// Statistics contains counters for the compression runs of one process.
type Statistics struct {
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	PassThrough   int64
	QualityPhase  int64
	ScalePhase    int64
	Trials        int64
	BytesIn       int64
	BytesOut      int64

	StartTime time.Time

	mutex       sync.RWMutex
	errors      []StatError
	failedKinds map[string]int64
	formats     map[string]int64
}

// StatError represents a failed run.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent copy of the counters, suitable for JSON.
type Snapshot struct {
	RunsStarted    int64            `json:"runs_started"`
	RunsSucceeded  int64            `json:"runs_succeeded"`
	RunsFailed     int64            `json:"runs_failed"`
	PassThrough    int64            `json:"pass_through"`
	QualityPhase   int64            `json:"quality_phase"`
	ScalePhase     int64            `json:"scale_phase"`
	Trials         int64            `json:"trials"`
	BytesIn        int64            `json:"bytes_in"`
	BytesOut       int64            `json:"bytes_out"`
	BytesSaved     int64            `json:"bytes_saved"`
	SavedPercent   float64          `json:"saved_percent"`
	AverageTrials  float64          `json:"average_trials"`
	Uptime         string           `json:"uptime"`
	FailuresByKind map[string]int64 `json:"failures_by_kind"`
	Formats        map[string]int64 `json:"formats"`
	Errors         []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		failedKinds: make(map[string]int64),
		formats:     make(map[string]int64),
	}
}

// IncrementRunsStarted increases the count of started runs by 1.
func (s *Statistics) IncrementRunsStarted() {
	atomic.AddInt64(&s.RunsStarted, 1)
}

// Record folds a finished run into the counters.
func (s *Statistics) Record(res compressor.CompressionResult) {
	atomic.AddInt64(&s.Trials, int64(res.Trials))

	if !res.Success {
		atomic.AddInt64(&s.RunsFailed, 1)
		s.addError(res.SourcePath, res.Kind.String(), res.Message)
		return
	}

	atomic.AddInt64(&s.RunsSucceeded, 1)
	atomic.AddInt64(&s.BytesIn, res.OriginalSize)
	atomic.AddInt64(&s.BytesOut, res.FinalSize)

	switch res.Phase {
	case compressor.PhasePassThrough:
		atomic.AddInt64(&s.PassThrough, 1)
	case compressor.PhaseQuality:
		atomic.AddInt64(&s.QualityPhase, 1)
	case compressor.PhaseScale:
		atomic.AddInt64(&s.ScalePhase, 1)
	}

	s.mutex.Lock()
	s.formats[res.Format]++
	s.mutex.Unlock()
}

func (s *Statistics) addError(filePath, kind, msg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.failedKinds[kind]++
	if len(s.errors) >= maxErrors {
		s.errors = s.errors[1:]
	}
	s.errors = append(s.errors, StatError{
		FilePath:  filePath,
		Kind:      kind,
		Error:     msg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		RunsStarted:    atomic.LoadInt64(&s.RunsStarted),
		RunsSucceeded:  atomic.LoadInt64(&s.RunsSucceeded),
		RunsFailed:     atomic.LoadInt64(&s.RunsFailed),
		PassThrough:    atomic.LoadInt64(&s.PassThrough),
		QualityPhase:   atomic.LoadInt64(&s.QualityPhase),
		ScalePhase:     atomic.LoadInt64(&s.ScalePhase),
		Trials:         atomic.LoadInt64(&s.Trials),
		BytesIn:        atomic.LoadInt64(&s.BytesIn),
		BytesOut:       atomic.LoadInt64(&s.BytesOut),
		Uptime:         time.Since(s.StartTime).Round(time.Second).String(),
		FailuresByKind: make(map[string]int64, len(s.failedKinds)),
		Formats:        make(map[string]int64, len(s.formats)),
		Errors:         append([]StatError(nil), s.errors...),
	}
	for k, v := range s.failedKinds {
		snap.FailuresByKind[k] = v
	}
	for k, v := range s.formats {
		snap.Formats[k] = v
	}

	snap.BytesSaved = snap.BytesIn - snap.BytesOut
	if snap.BytesIn > 0 {
		snap.SavedPercent = float64(snap.BytesSaved) * 100 / float64(snap.BytesIn)
	}
	if finished := snap.RunsSucceeded + snap.RunsFailed; finished > 0 {
		snap.AverageTrials = float64(snap.Trials) / float64(finished)
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Image Compressor Statistics Summary:

Runs:
		Started: %d
		Succeeded: %d
		Failed: %d

Outcome:
		Already Within Target: %d
		Quality Descent: %d
		Scale Descent: %d
		Average Trials: %.1f

Size:
		Bytes In: %s
		Bytes Out: %s
		Saved: %s (%.1f%%)

Uptime: %s`,
		snap.RunsStarted,
		snap.RunsSucceeded,
		snap.RunsFailed,
		snap.PassThrough,
		snap.QualityPhase,
		snap.ScalePhase,
		snap.AverageTrials,
		FormatBytes(snap.BytesIn),
		FormatBytes(snap.BytesOut),
		FormatBytes(snap.BytesSaved),
		snap.SavedPercent,
		snap.Uptime)
}

// GetErrorSummary returns a summary of failed runs.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.errors))
	for i, err := range s.errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Kind,
			err.FilePath,
			err.Error)
	}
	return b.String()
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
