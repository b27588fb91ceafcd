package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"image-compressor-go/internal/hasher"
	"image-compressor-go/internal/logger"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// MetadataCopier carries metadata from the source file into a written output file.
type MetadataCopier interface {
	CopyMetadata(srcPath, dstPath string) error
}

// SizeCompressor is the default Compressor. It searches quality first and
// pixel dimensions second until the encoded image fits the budget.
type SizeCompressor struct {
	logger      *logrus.Logger
	attemptHook AttemptHookFunc
	metadata    MetadataCopier
}

// NewSizeCompressor returns a SizeCompressor that logs to log.
func NewSizeCompressor(log *logrus.Logger) *SizeCompressor {
	return NewSizeCompressorWithAttemptHook(log, nil)
}

// NewSizeCompressorWithAttemptHook lets callers observe every encode trial.
func NewSizeCompressorWithAttemptHook(log *logrus.Logger, hook AttemptHookFunc) *SizeCompressor {
	if log == nil {
		log = logger.Discard()
	}
	return &SizeCompressor{
		logger:      log,
		attemptHook: hook,
	}
}

// SetMetadataCopier enables metadata carry-over for JPEG sources.
func (c *SizeCompressor) SetMetadataCopier(m MetadataCopier) {
	c.metadata = m
}

// Compress performs size-targeted compression of sourcePath into outputPath.
func (c *SizeCompressor) Compress(ctx context.Context, sourcePath, outputPath string, req CompressionRequest, onProgress ProgressFunc) (res CompressionResult) {
	entry := logger.ForFile(c.logger, sourcePath, "compress")
	res = CompressionResult{
		SourcePath: sourcePath,
		OutputPath: outputPath,
		StartedAt:  time.Now(),
	}
	if onProgress == nil {
		onProgress = func(int, string, bool) {}
	}

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("stack", string(debug.Stack())).Errorf("Panic during compression: %v", r)
			res = c.fail(entry, res, fmt.Errorf("%v", r))
		}
		res.FinishedAt = time.Now()
	}()

	if err := req.Validate(); err != nil {
		return c.fail(entry, res, err)
	}
	if err := ctx.Err(); err != nil {
		return c.fail(entry, res, fmt.Errorf("%w: %v", ErrCancelled, err))
	}

	src, err := OpenSource(sourcePath)
	if err != nil {
		return c.fail(entry, res, err)
	}
	res.OriginalSize = src.Size
	res.Format = src.Format

	if src.Size <= req.TargetBytes() {
		if err := writeOutput(outputPath, src.Data); err != nil {
			return c.fail(entry, res, err)
		}
		msg := fmt.Sprintf("Image is already within %d KB, no compression needed", req.TargetKB)
		res = c.succeed(entry, res, PhasePassThrough, src.Data, msg)
		res.Scale = req.InitialScale
		onProgress(100, msg, true)
		return res
	}

	if err := src.Decode(); err != nil {
		return c.fail(entry, res, err)
	}

	img := src.Image
	format := src.OutputFormat()
	if src.NeedsNormalization() {
		entry.Debugf("Normalizing %s image to opaque truecolor", src.ColorMode)
		img = flatten(img)
	}
	res.Format = strings.ToLower(format.String())

	target := float64(req.TargetKB)

	for quality := req.MaxQuality; quality >= req.MinQuality; {
		if err := ctx.Err(); err != nil {
			return c.fail(entry, res, fmt.Errorf("%w: %v", ErrCancelled, err))
		}

		data, err := encode(img, format, quality)
		if err != nil {
			return c.fail(entry, res, fmt.Errorf("encode at quality %d: %w", quality, err))
		}
		res.Trials++
		sizeKB := float64(len(data)) / 1024
		c.observe(entry, CompressionAttempt{
			Phase:     PhaseQuality,
			Quality:   quality,
			Scale:     req.InitialScale,
			Width:     img.Bounds().Dx(),
			Height:    img.Bounds().Dy(),
			SizeBytes: int64(len(data)),
		})
		onProgress(qualityProgress(req, quality),
			fmt.Sprintf("Trying quality %d%%, current size %.1f KB", quality, sizeKB), false)

		if sizeKB <= target {
			res.Quality = quality
			res.Scale = req.InitialScale
			msg := fmt.Sprintf("Quality compression succeeded: %d%%, size %.2f KB", quality, sizeKB)
			return c.accept(entry, res, src, PhaseQuality, data, req, msg, onProgress)
		}

		quality -= qualityStep(sizeKB, target)
	}

	first := roundScale(req.InitialScale * ScaleFactor)
	bounds := img.Bounds()
	for scale := first; scale >= req.MinScale; scale = roundScale(scale * ScaleFactor) {
		w := int(float64(bounds.Dx()) * scale)
		h := int(float64(bounds.Dy()) * scale)
		if w < MinDimension || h < MinDimension {
			entry.Debugf("Stopping scale descent at %.2f: %dx%d is below the %dpx floor", scale, w, h, MinDimension)
			break
		}
		if err := ctx.Err(); err != nil {
			return c.fail(entry, res, fmt.Errorf("%w: %v", ErrCancelled, err))
		}

		resized := imaging.Resize(img, w, h, imaging.Lanczos)
		data, err := encode(resized, format, ScaleQuality)
		if err != nil {
			return c.fail(entry, res, fmt.Errorf("encode at scale %.2f: %w", scale, err))
		}
		res.Trials++
		sizeKB := float64(len(data)) / 1024
		c.observe(entry, CompressionAttempt{
			Phase:     PhaseScale,
			Quality:   ScaleQuality,
			Scale:     scale,
			Width:     w,
			Height:    h,
			SizeBytes: int64(len(data)),
		})
		onProgress(scaleProgress(first, req.MinScale, scale),
			fmt.Sprintf("Trying scale %.1f%%, size %.1f KB", scale*100, sizeKB), false)

		if sizeKB <= target {
			res.Quality = ScaleQuality
			res.Scale = scale
			msg := fmt.Sprintf("Scale compression succeeded: %.1f%%, size %.2f KB", scale*100, sizeKB)
			return c.accept(entry, res, src, PhaseScale, data, req, msg, onProgress)
		}
	}

	return c.fail(entry, res, fmt.Errorf("%w of %d KB; consider specialised image tooling", ErrUnreachableTarget, req.TargetKB))
}

// accept writes the accepted buffer and finalizes a successful result.
func (c *SizeCompressor) accept(entry *logrus.Entry, res CompressionResult, src *SourceImage, phase Phase,
	data []byte, req CompressionRequest, msg string, onProgress ProgressFunc) CompressionResult {
	written, err := c.writeAccepted(entry, src, res.OutputPath, data, req.TargetBytes())
	if err != nil {
		return c.fail(entry, res, err)
	}
	res = c.succeed(entry, res, phase, written, msg)
	onProgress(100, msg, true)
	return res
}

func (c *SizeCompressor) succeed(entry *logrus.Entry, res CompressionResult, phase Phase, data []byte, msg string) CompressionResult {
	res.Success = true
	res.Phase = phase
	res.Data = data
	res.FinalSize = int64(len(data))
	res.Checksum = hasher.ContentHash(data, 16)
	res.Message = msg
	res.Kind = KindNone
	entry.WithFields(logrus.Fields{
		"phase":    phase,
		"quality":  res.Quality,
		"scale":    res.Scale,
		"trials":   res.Trials,
		"size":     res.FinalSize,
		"original": res.OriginalSize,
	}).Info(msg)
	return res
}

func (c *SizeCompressor) fail(entry *logrus.Entry, res CompressionResult, err error) CompressionResult {
	kind := kindOf(err)
	if kind == KindUnexpectedFailure && !errors.Is(err, ErrUnexpected) {
		err = fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	res.Success = false
	res.Data = nil
	res.FinalSize = 0
	res.Checksum = ""
	res.Kind = kind
	res.Err = err
	res.Message = err.Error()

	fields := entry.WithFields(logrus.Fields{"kind": kind.String(), "trials": res.Trials})
	switch kind {
	case KindUnexpectedFailure:
		fields.WithError(err).Error("Compression failed")
	case KindUnreachableTarget, KindCancelled:
		fields.Warn(res.Message)
	default:
		fields.WithError(err).Warn("Compression rejected")
	}
	return res
}

func (c *SizeCompressor) observe(entry *logrus.Entry, a CompressionAttempt) {
	entry.WithFields(logrus.Fields{
		"phase":   a.Phase,
		"quality": a.Quality,
		"scale":   a.Scale,
		"width":   a.Width,
		"height":  a.Height,
		"size":    a.SizeBytes,
	}).Debug("Encode trial")
	if c.attemptHook != nil {
		c.attemptHook(a)
	}
}

// writeAccepted writes data to outputPath, carrying metadata over when a
// copier is set and the result still fits limit. It returns the bytes on disk.
func (c *SizeCompressor) writeAccepted(entry *logrus.Entry, src *SourceImage, outputPath string, data []byte, limit int64) ([]byte, error) {
	if c.metadata == nil || src.Format != "jpeg" {
		return data, writeOutput(outputPath, data)
	}

	tmpPath := outputPath + ".tmp"
	if err := writeFile(tmpPath, data); err != nil {
		return nil, err
	}

	written := data
	if err := c.metadata.CopyMetadata(src.Path, tmpPath); err != nil {
		entry.Warnf("Metadata not copied: %v", err)
		if err := writeFile(tmpPath, data); err != nil {
			return nil, err
		}
	} else if withMeta, err := os.ReadFile(tmpPath); err != nil || int64(len(withMeta)) > limit {
		entry.Warn("Metadata would exceed the target size, writing without it")
		if err := writeFile(tmpPath, data); err != nil {
			return nil, err
		}
	} else {
		written = withMeta
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("rename output: %w", err)
	}
	return written, nil
}

// writeOutput writes data to a temporary file next to outputPath and renames
// it into place, so a failed write never leaves a partial output behind.
func writeOutput(outputPath string, data []byte) error {
	tmpPath := outputPath + ".tmp"
	if err := writeFile(tmpPath, data); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write tmp file: %w", err)
	}
	return nil
}

func encode(img image.Image, format imaging.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// qualityStep is the quality decrement after a trial overshooting the target:
// one point per 50 KB of overshoot, clamped to [1, 5].
func qualityStep(sizeKB, targetKB float64) int {
	return max(1, min(maxQualityStep, int((sizeKB-targetKB)/stepDivisorKB)))
}

// qualityProgress maps the quality consumed onto 0-50%.
func qualityProgress(req CompressionRequest, quality int) int {
	span := req.MaxQuality - req.MinQuality
	if span <= 0 {
		return 0
	}
	return int(float64(req.MaxQuality-quality) / float64(span) * 50)
}

// scaleProgress maps the scale consumed onto 50-100%.
func scaleProgress(first, minScale, scale float64) int {
	span := first - minScale
	if span <= 0 {
		return 50
	}
	return 50 + int((first-scale)/span*50)
}

// roundScale rounds a scale factor to two decimals.
func roundScale(s float64) float64 {
	return math.Round(s*100) / 100
}
