package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

type progressCall struct {
	percent int
	message string
	done    bool
}

func recordProgress(calls *[]progressCall) ProgressFunc {
	return func(percent int, message string, done bool) {
		*calls = append(*calls, progressCall{percent, message, done})
	}
}

func noiseImage(w, h int, alpha bool, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && (x+y)%7 == 0 {
				a = uint8(rng.Intn(200))
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: a,
			})
		}
	}
	return img
}

// opaqueRGBA returns an *image.RGBA so that the PNG encoder writes a
// truecolor file without an alpha channel.
func opaqueRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst.SetRGBA(x, y, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: 255})
		}
	}
	return dst
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func kbCeil(n int) int {
	return (n + 1023) / 1024
}

func newTestCompressor(attempts *[]CompressionAttempt) *SizeCompressor {
	return NewSizeCompressorWithAttemptHook(nil, func(a CompressionAttempt) {
		if attempts != nil {
			*attempts = append(*attempts, a)
		}
	})
}

func TestCompress_PassThrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	writePNG(t, src, noiseImage(16, 16, true, 1))
	original, _ := os.ReadFile(src)

	var attempts []CompressionAttempt
	var calls []progressCall
	out := filepath.Join(dir, "out", "small_compressed.png")
	res := newTestCompressor(&attempts).Compress(context.Background(), src, out, DefaultRequest(), recordProgress(&calls))

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Phase != PhasePassThrough {
		t.Errorf("phase: got %q, want %q", res.Phase, PhasePassThrough)
	}
	if len(attempts) != 0 || res.Trials != 0 {
		t.Errorf("pass-through must not encode: %d attempts, %d trials", len(attempts), res.Trials)
	}
	if len(calls) != 1 || calls[0].percent != 100 || !calls[0].done {
		t.Errorf("progress: got %+v, want a single (100, done) call", calls)
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(written, original) {
		t.Error("pass-through output differs from source")
	}
	if res.Format != "png" {
		t.Errorf("format: got %q, want png", res.Format)
	}

	again := newTestCompressor(nil).Compress(context.Background(), src, out, DefaultRequest(), nil)
	if !again.Success || again.Checksum != res.Checksum {
		t.Errorf("second run: success=%v checksum %s vs %s", again.Success, again.Checksum, res.Checksum)
	}
	second, _ := os.ReadFile(out)
	if !bytes.Equal(second, written) {
		t.Error("pass-through is not idempotent")
	}
}

func TestCompress_SourceNotFound(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.jpg")
	var calls []progressCall

	res := newTestCompressor(nil).Compress(context.Background(), filepath.Join(dir, "missing.jpg"), out, DefaultRequest(), recordProgress(&calls))

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Kind != KindSourceNotFound {
		t.Errorf("kind: got %v, want %v", res.Kind, KindSourceNotFound)
	}
	if !errors.Is(res.Err, ErrSourceNotFound) {
		t.Errorf("error chain: %v", res.Err)
	}
	if res.Message == "" {
		t.Error("message is empty")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output file must not be created")
	}
	if len(calls) != 0 {
		t.Errorf("progress must not be reported, got %+v", calls)
	}
}

func TestCompress_DecodeFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.jpg")
	if err := os.WriteFile(src, bytes.Repeat([]byte("not an image at all "), 200), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := filepath.Join(dir, "out.jpg")

	for _, targetKB := range []int{1, 500} {
		req := DefaultRequest()
		req.TargetKB = targetKB
		res := newTestCompressor(nil).Compress(context.Background(), src, out, req, nil)
		if res.Kind != KindDecodeFailure {
			t.Errorf("target %d KB: kind got %v, want %v (%s)", targetKB, res.Kind, KindDecodeFailure, res.Message)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("target %d KB: output file must not be created", targetKB)
		}
	}
}

func TestCompress_InvalidRequest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	writePNG(t, src, noiseImage(8, 8, false, 2))

	tests := []struct {
		name string
		mod  func(*CompressionRequest)
	}{
		{"min above max", func(r *CompressionRequest) { r.MinQuality, r.MaxQuality = 90, 80 }},
		{"zero target", func(r *CompressionRequest) { r.TargetKB = 0 }},
		{"quality above 100", func(r *CompressionRequest) { r.MaxQuality = 101 }},
		{"zero min scale", func(r *CompressionRequest) { r.MinScale = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := DefaultRequest()
			tt.mod(&req)
			res := newTestCompressor(nil).Compress(context.Background(), src, filepath.Join(dir, "out.png"), req, nil)
			if res.Kind != KindInvalidRequest || !errors.Is(res.Err, ErrInvalidRequest) {
				t.Errorf("kind: got %v (%v)", res.Kind, res.Err)
			}
		})
	}
}

func TestCompress_QualityDescent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	if err := imaging.Save(noiseImage(256, 256, false, 3), src, imaging.JPEGQuality(100)); err != nil {
		t.Fatalf("save source: %v", err)
	}

	loaded, err := LoadSource(src)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	ref, err := encode(loaded.Image, imaging.JPEG, 50)
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	req := DefaultRequest()
	req.TargetKB = kbCeil(len(ref))
	if fileSize(t, src) <= req.TargetBytes() {
		t.Fatalf("source %d bytes already fits %d KB", fileSize(t, src), req.TargetKB)
	}

	var attempts []CompressionAttempt
	var calls []progressCall
	out := filepath.Join(dir, "photo_compressed.jpg")
	res := newTestCompressor(&attempts).Compress(context.Background(), src, out, req, recordProgress(&calls))

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Phase != PhaseQuality {
		t.Errorf("phase: got %q, want %q", res.Phase, PhaseQuality)
	}
	if res.FinalSize > req.TargetBytes() {
		t.Errorf("final size %d exceeds target %d", res.FinalSize, req.TargetBytes())
	}
	if res.Quality < req.MinQuality || res.Quality > req.MaxQuality {
		t.Errorf("quality %d outside [%d, %d]", res.Quality, req.MinQuality, req.MaxQuality)
	}
	if got := fileSize(t, out); got != res.FinalSize {
		t.Errorf("output size: got %d, want %d", got, res.FinalSize)
	}

	if len(attempts) != res.Trials || len(attempts) == 0 {
		t.Fatalf("attempts: got %d, trials %d", len(attempts), res.Trials)
	}
	if len(attempts) > req.MaxQuality-req.MinQuality+1 {
		t.Errorf("too many trials: %d", len(attempts))
	}
	if attempts[0].Quality != req.MaxQuality {
		t.Errorf("first quality: got %d, want %d", attempts[0].Quality, req.MaxQuality)
	}
	for i := 1; i < len(attempts); i++ {
		if attempts[i].Quality >= attempts[i-1].Quality {
			t.Errorf("quality not strictly decreasing at %d: %d then %d", i, attempts[i-1].Quality, attempts[i].Quality)
		}
		step := attempts[i-1].Quality - attempts[i].Quality
		if want := qualityStep(attempts[i-1].SizeKB(), float64(req.TargetKB)); step != want {
			t.Errorf("step at %d: got %d, want %d", i, step, want)
		}
	}

	assertProgress(t, calls)
	for _, c := range calls[:len(calls)-1] {
		if c.percent > 50 {
			t.Errorf("quality descent progress %d exceeds 50", c.percent)
		}
	}
}

func TestCompress_ScaleDescent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "texture.png")
	img := opaqueRGBA(noiseImage(200, 200, false, 4))
	writePNG(t, src, img)

	loaded, err := LoadSource(src)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	if loaded.NeedsNormalization() {
		t.Fatalf("opaque PNG reported color mode %s", loaded.ColorMode)
	}
	ref, err := encode(imaging.Resize(loaded.Image, 118, 118, imaging.Lanczos), imaging.PNG, ScaleQuality)
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}

	req := DefaultRequest()
	req.MaxQuality, req.MinQuality = 85, 80
	req.TargetKB = kbCeil(len(ref))

	var attempts []CompressionAttempt
	var calls []progressCall
	out := filepath.Join(dir, "texture_compressed.png")
	res := newTestCompressor(&attempts).Compress(context.Background(), src, out, req, recordProgress(&calls))

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Phase != PhaseScale {
		t.Errorf("phase: got %q, want %q", res.Phase, PhaseScale)
	}
	if res.Scale < DefaultMinScale || res.Scale > 0.9 {
		t.Errorf("scale %.2f outside [0.1, 0.9]", res.Scale)
	}
	if res.FinalSize > req.TargetBytes() {
		t.Errorf("final size %d exceeds target %d", res.FinalSize, req.TargetBytes())
	}
	if res.Format != "png" {
		t.Errorf("format: got %q, want png", res.Format)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" || cfg.Width >= 200 {
		t.Errorf("output: format %s width %d", format, cfg.Width)
	}

	var scales []float64
	for _, a := range attempts {
		if a.Phase == PhaseScale {
			scales = append(scales, a.Scale)
			if a.Quality != ScaleQuality {
				t.Errorf("scale trial quality: got %d, want %d", a.Quality, ScaleQuality)
			}
		}
	}
	if len(scales) == 0 || scales[0] != 0.9 {
		t.Fatalf("scale trials: got %v", scales)
	}
	for i := 1; i < len(scales); i++ {
		if want := roundScale(scales[i-1] * ScaleFactor); scales[i] != want {
			t.Errorf("scale %d: got %.2f, want %.2f", i, scales[i], want)
		}
	}

	assertProgress(t, calls)
	var sawScalePhase bool
	for _, c := range calls[:len(calls)-1] {
		if c.percent >= 50 {
			sawScalePhase = true
		}
	}
	if !sawScalePhase {
		t.Error("scale descent did not report progress in the 50-100 range")
	}
}

func TestCompress_AlphaNormalizedToJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "overlay.png")
	writePNG(t, src, noiseImage(240, 180, true, 5))

	loaded, err := LoadSource(src)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	if loaded.ColorMode != ColorModeAlpha {
		t.Fatalf("color mode: got %s, want %s", loaded.ColorMode, ColorModeAlpha)
	}
	ref, err := encode(flatten(loaded.Image), imaging.JPEG, DefaultMaxQuality)
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	req := DefaultRequest()
	req.TargetKB = kbCeil(len(ref))
	if fileSize(t, src) <= req.TargetBytes() {
		t.Fatalf("source %d bytes already fits %d KB", fileSize(t, src), req.TargetKB)
	}

	out := filepath.Join(dir, "overlay_compressed.png")
	res := newTestCompressor(nil).Compress(context.Background(), src, out, req, nil)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Format != "jpeg" {
		t.Errorf("format: got %q, want jpeg", res.Format)
	}
	if res.Phase != PhaseQuality || res.Quality != DefaultMaxQuality {
		t.Errorf("expected acceptance at first quality trial, got %s/%d", res.Phase, res.Quality)
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(written))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("output format: got %s, want jpeg", format)
	}
	if colorModeOf(cfg.ColorModel) == ColorModeAlpha {
		t.Error("output still carries an alpha channel")
	}
}

func TestCompress_UnreachableTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "strip.png")
	writePNG(t, src, opaqueRGBA(noiseImage(1000, 60, false, 6)))

	req := DefaultRequest()
	req.TargetKB = 1
	req.MaxQuality, req.MinQuality = 85, 84

	var attempts []CompressionAttempt
	var calls []progressCall
	out := filepath.Join(dir, "strip_compressed.png")
	res := newTestCompressor(&attempts).Compress(context.Background(), src, out, req, recordProgress(&calls))

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Kind != KindUnreachableTarget || !errors.Is(res.Err, ErrUnreachableTarget) {
		t.Errorf("kind: got %v (%v)", res.Kind, res.Err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output file must not be created")
	}
	for _, c := range calls {
		if c.done {
			t.Errorf("done must not be reported on failure: %+v", c)
		}
	}

	last := attempts[len(attempts)-1]
	if last.Phase != PhaseScale || last.Scale != 0.17 {
		t.Errorf("last trial: got %s at %.2f, want scale at 0.17", last.Phase, last.Scale)
	}
	for _, a := range attempts {
		if a.Width < MinDimension || a.Height < MinDimension {
			t.Errorf("trial below the pixel floor: %dx%d", a.Width, a.Height)
		}
	}
	if len(entries(dir)) != 1 {
		t.Errorf("unexpected files left behind: %v", entries(dir))
	}
}

func TestCompress_ScaleStopsAtMinScale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tile.png")
	writePNG(t, src, opaqueRGBA(noiseImage(120, 120, false, 11)))

	req := DefaultRequest()
	req.TargetKB = 1
	req.MaxQuality, req.MinQuality = 85, 84
	req.MinScale = 0.5

	var attempts []CompressionAttempt
	var calls []progressCall
	out := filepath.Join(dir, "tile_compressed.png")
	res := newTestCompressor(&attempts).Compress(context.Background(), src, out, req, recordProgress(&calls))

	if res.Success || res.Kind != KindUnreachableTarget {
		t.Fatalf("expected unreachable target, got success=%v kind=%s", res.Success, res.Kind)
	}

	var scales []float64
	for _, a := range attempts {
		if a.Phase == PhaseScale {
			scales = append(scales, a.Scale)
		}
	}
	if got, want := fmt.Sprint(scales), "[0.9 0.81 0.73 0.66 0.59 0.53]"; got != want {
		t.Errorf("scales: got %s, want %s", got, want)
	}
	if last := calls[len(calls)-1]; last.percent != 96 {
		t.Errorf("last progress: got %d, want 96", last.percent)
	}
}

func TestCompress_PalettedGIFNormalizedToJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sticker.gif")

	rng := rand.New(rand.NewSource(12))
	img := image.NewPaletted(image.Rect(0, 0, 200, 200), palette.Plan9)
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(len(palette.Plan9)))
	}
	f, err := os.Create(src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gif.Encode(f, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	f.Close()

	loaded, err := LoadSource(src)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	if loaded.ColorMode != ColorModePaletted || !loaded.NeedsNormalization() {
		t.Fatalf("color mode: got %s", loaded.ColorMode)
	}
	ref, err := encode(flatten(loaded.Image), imaging.JPEG, 40)
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	req := DefaultRequest()
	req.TargetKB = kbCeil(len(ref))
	if fileSize(t, src) <= req.TargetBytes() {
		t.Fatalf("source %d bytes already fits %d KB", fileSize(t, src), req.TargetKB)
	}

	out := filepath.Join(dir, "sticker_compressed.gif")
	res := newTestCompressor(nil).Compress(context.Background(), src, out, req, nil)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Format != "jpeg" || res.Phase != PhaseQuality {
		t.Errorf("result: format=%s phase=%s", res.Format, res.Phase)
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(written)); err != nil || format != "jpeg" {
		t.Errorf("output: format %q, err %v", format, err)
	}
	if int64(len(written)) > req.TargetBytes() {
		t.Errorf("output %d bytes exceeds %d KB", len(written), req.TargetKB)
	}
}

func TestCompress_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "strip.png")
	writePNG(t, src, opaqueRGBA(noiseImage(400, 60, false, 7)))
	out := filepath.Join(dir, "out.png")

	req := DefaultRequest()
	req.TargetKB = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var attempts []CompressionAttempt
	c := NewSizeCompressorWithAttemptHook(nil, func(a CompressionAttempt) {
		attempts = append(attempts, a)
		cancel()
	})

	res := c.Compress(ctx, src, out, req, nil)
	if res.Kind != KindCancelled || !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("kind: got %v (%v)", res.Kind, res.Err)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts after cancel: got %d, want 1", len(attempts))
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output file must not be created")
	}
}

func TestCompress_PanicIsReported(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "strip.png")
	writePNG(t, src, opaqueRGBA(noiseImage(300, 40, false, 8)))

	req := DefaultRequest()
	req.TargetKB = 1
	c := NewSizeCompressorWithAttemptHook(nil, func(CompressionAttempt) { panic("hook exploded") })

	res := c.Compress(context.Background(), src, filepath.Join(dir, "out.png"), req, nil)
	if res.Success || res.Kind != KindUnexpectedFailure {
		t.Fatalf("kind: got %v, success %v", res.Kind, res.Success)
	}
	if !errors.Is(res.Err, ErrUnexpected) {
		t.Errorf("error chain: %v", res.Err)
	}
	if res.FinishedAt.IsZero() {
		t.Error("finish time not set")
	}
}

type fakeCopier struct {
	extra []byte
	err   error
	calls int
}

func (f *fakeCopier) CopyMetadata(_, dst string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append(data, f.extra...), 0o644)
}

func TestCompress_MetadataCopier(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	if err := imaging.Save(noiseImage(200, 150, false, 9), src, imaging.JPEGQuality(100)); err != nil {
		t.Fatalf("save source: %v", err)
	}
	loaded, err := LoadSource(src)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ref, err := encode(loaded.Image, imaging.JPEG, DefaultMaxQuality)
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	req := DefaultRequest()
	req.TargetKB = kbCeil(len(ref) + 1)
	headroom := int(req.TargetBytes()) - len(ref)

	tests := []struct {
		name     string
		copier   *fakeCopier
		wantMeta bool
	}{
		{"fits", &fakeCopier{extra: make([]byte, headroom)}, true},
		{"over budget", &fakeCopier{extra: make([]byte, headroom+1)}, false},
		{"copier error", &fakeCopier{err: errors.New("exiftool missing")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "photo_compressed.jpg")
			c := NewSizeCompressor(nil)
			c.SetMetadataCopier(tt.copier)

			res := c.Compress(context.Background(), src, out, req, nil)
			if !res.Success {
				t.Fatalf("expected success, got %q", res.Message)
			}
			if tt.copier.calls != 1 {
				t.Errorf("copier calls: got %d, want 1", tt.copier.calls)
			}
			size := fileSize(t, out)
			if size > req.TargetBytes() {
				t.Errorf("output %d exceeds target %d", size, req.TargetBytes())
			}
			if got := size > int64(len(ref)); got != tt.wantMeta {
				t.Errorf("metadata kept: got %v, want %v", got, tt.wantMeta)
			}
			if res.FinalSize != size {
				t.Errorf("final size: got %d, file has %d", res.FinalSize, size)
			}
		})
	}
}

func TestTask_Wait(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	writePNG(t, src, noiseImage(8, 8, false, 10))

	var calls []progressCall
	task := Start(context.Background(), NewSizeCompressor(nil), Job{
		ID:         "job-1",
		SourcePath: src,
		OutputPath: filepath.Join(dir, "out.png"),
		Request:    DefaultRequest(),
	}, recordProgress(&calls))

	res := task.Wait()
	<-task.Done()
	if task.Running() {
		t.Error("task still running after Wait")
	}
	if !res.Success || res.Phase != PhasePassThrough {
		t.Errorf("result: success=%v phase=%s", res.Success, res.Phase)
	}
	if len(calls) != 1 || !calls[0].done {
		t.Errorf("progress: got %+v", calls)
	}
}

func assertProgress(t *testing.T, calls []progressCall) {
	t.Helper()
	if len(calls) < 2 {
		t.Fatalf("progress calls: got %d", len(calls))
	}
	last := calls[len(calls)-1]
	if last.percent != 100 || !last.done {
		t.Errorf("final progress: got %+v", last)
	}
	for i, c := range calls {
		if c.done && i != len(calls)-1 {
			t.Errorf("done reported before the end at %d", i)
		}
		if c.percent < 0 || c.percent > 100 {
			t.Errorf("progress %d out of range", c.percent)
		}
		if i > 0 && c.percent < calls[i-1].percent {
			t.Errorf("progress went backwards: %d then %d", calls[i-1].percent, c.percent)
		}
	}
}

func entries(dir string) []string {
	des, _ := os.ReadDir(dir)
	var names []string
	for _, d := range des {
		names = append(names, d.Name())
	}
	return names
}
