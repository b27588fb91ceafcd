package compressor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTargetKB is the default output budget in kilobytes.
	DefaultTargetKB = 500
	// DefaultMaxQuality is the quality the quality descent starts from.
	DefaultMaxQuality = 85
	// DefaultMinQuality is the lowest quality the quality descent will try.
	DefaultMinQuality = 5
	// DefaultInitialScale is the scale factor of the unscaled image.
	DefaultInitialScale = 1.0
	// DefaultMinScale is the smallest scale factor the scale descent will try.
	DefaultMinScale = 0.1

	// ScaleQuality is the fixed quality used for every scale descent trial.
	ScaleQuality = 85
	// ScaleFactor is applied to the scale on every scale descent iteration.
	ScaleFactor = 0.9
	// MinDimension is the pixel floor for either side of a resized image.
	MinDimension = 10

	maxQualityStep = 5
	stepDivisorKB  = 50
)

// CompressionRequest defines the budget and search bounds of one compression run.
type CompressionRequest struct {
	TargetKB     int
	MaxQuality   int
	MinQuality   int
	InitialScale float64
	MinScale     float64
}

// DefaultRequest returns a request populated with the default bounds.
func DefaultRequest() CompressionRequest {
	return CompressionRequest{
		TargetKB:     DefaultTargetKB,
		MaxQuality:   DefaultMaxQuality,
		MinQuality:   DefaultMinQuality,
		InitialScale: DefaultInitialScale,
		MinScale:     DefaultMinScale,
	}
}

// TargetBytes returns the budget in bytes.
func (r CompressionRequest) TargetBytes() int64 {
	return int64(r.TargetKB) * 1024
}

// Validate checks the request preconditions.
func (r CompressionRequest) Validate() error {
	if r.TargetKB <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %d KB", ErrInvalidRequest, r.TargetKB)
	}
	if r.MaxQuality < 1 || r.MaxQuality > 100 {
		return fmt.Errorf("%w: max quality %d out of range 1-100", ErrInvalidRequest, r.MaxQuality)
	}
	if r.MinQuality < 1 || r.MinQuality > 100 {
		return fmt.Errorf("%w: min quality %d out of range 1-100", ErrInvalidRequest, r.MinQuality)
	}
	if r.MinQuality > r.MaxQuality {
		return fmt.Errorf("%w: min quality %d exceeds max quality %d", ErrInvalidRequest, r.MinQuality, r.MaxQuality)
	}
	if r.MinScale <= 0 || r.MinScale > r.InitialScale || r.InitialScale > 1 {
		return fmt.Errorf("%w: scale bounds must satisfy 0 < min (%.2f) <= initial (%.2f) <= 1",
			ErrInvalidRequest, r.MinScale, r.InitialScale)
	}
	return nil
}

// DefaultOutputPath returns "<dir>/<name><suffix><ext>" for sourcePath.
func DefaultOutputPath(sourcePath, suffix string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + suffix + ext
}

// Phase identifies which path produced a result.
type Phase string

const (
	PhaseNone        Phase = ""
	PhasePassThrough Phase = "pass-through"
	PhaseQuality     Phase = "quality"
	PhaseScale       Phase = "scale"
)

// CompressionAttempt describes a single encode trial.
type CompressionAttempt struct {
	Phase     Phase
	Quality   int
	Scale     float64
	Width     int
	Height    int
	SizeBytes int64
}

// SizeKB returns the attempt size in kilobytes.
func (a CompressionAttempt) SizeKB() float64 {
	return float64(a.SizeBytes) / 1024
}

// CompressionResult is the terminal value of one compression run.
type CompressionResult struct {
	SourcePath   string
	OutputPath   string
	Success      bool
	Data         []byte
	Message      string
	Kind         ErrorKind
	Err          error
	Phase        Phase
	Quality      int
	Scale        float64
	Format       string
	OriginalSize int64
	FinalSize    int64
	Trials       int
	Checksum     string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// PercentageSaved returns how much smaller the output is than the source.
func (r CompressionResult) PercentageSaved() float64 {
	if !r.Success || r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OriginalSize-r.FinalSize) * 100 / float64(r.OriginalSize)
}

// ProgressFunc receives status updates during a run. It is called
// synchronously on the goroutine running the compression.
type ProgressFunc func(percent int, message string, done bool)

// AttemptHookFunc receives every encode trial as it is measured.
type AttemptHookFunc func(attempt CompressionAttempt)

// Compressor defines the interface for size-targeted image compression.
type Compressor interface {
	// Compress re-encodes sourcePath into outputPath so that the output fits
	// the request budget. Failures are reported through the result, never
	// through a panic.
	Compress(ctx context.Context, sourcePath, outputPath string, req CompressionRequest, onProgress ProgressFunc) CompressionResult
}
