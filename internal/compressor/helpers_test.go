package compressor

import (
	"errors"
	"fmt"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestQualityStep(t *testing.T) {
	tests := []struct {
		sizeKB, targetKB float64
		want             int
	}{
		{510, 500, 1},
		{549.9, 500, 1},
		{600, 500, 2},
		{750, 500, 5},
		{5000, 500, 5},
		{500.5, 500, 1},
	}
	for _, tt := range tests {
		if got := qualityStep(tt.sizeKB, tt.targetKB); got != tt.want {
			t.Errorf("qualityStep(%v, %v) = %d, want %d", tt.sizeKB, tt.targetKB, got, tt.want)
		}
	}
}

func TestQualityProgress(t *testing.T) {
	req := DefaultRequest()
	if got := qualityProgress(req, req.MaxQuality); got != 0 {
		t.Errorf("start: got %d, want 0", got)
	}
	if got := qualityProgress(req, req.MinQuality); got != 50 {
		t.Errorf("end: got %d, want 50", got)
	}
	if got := qualityProgress(req, 45); got != 25 {
		t.Errorf("midpoint: got %d, want 25", got)
	}

	req.MinQuality = req.MaxQuality
	if got := qualityProgress(req, req.MaxQuality); got != 0 {
		t.Errorf("equal bounds: got %d, want 0", got)
	}
}

func TestScaleProgress(t *testing.T) {
	if got := scaleProgress(0.9, 0.1, 0.9); got != 50 {
		t.Errorf("first scale: got %d, want 50", got)
	}
	if got := scaleProgress(0.9, 0.1, 0.1); got != 100 {
		t.Errorf("min scale: got %d, want 100", got)
	}
	if got := scaleProgress(0.1, 0.1, 0.1); got != 50 {
		t.Errorf("degenerate span: got %d, want 50", got)
	}
}

func TestRoundScale_SequenceTerminates(t *testing.T) {
	want := []float64{0.9, 0.81, 0.73, 0.66, 0.59, 0.53, 0.48, 0.43, 0.39, 0.35,
		0.32, 0.29, 0.26, 0.23, 0.21, 0.19, 0.17, 0.15, 0.14, 0.13, 0.12, 0.11, 0.1}

	var got []float64
	for s := roundScale(DefaultInitialScale * ScaleFactor); s >= DefaultMinScale; s = roundScale(s * ScaleFactor) {
		got = append(got, s)
		if len(got) > 100 {
			t.Fatal("scale sequence does not terminate")
		}
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("sequence:\n got %v\nwant %v", got, want)
	}
}

func TestColorModeOf(t *testing.T) {
	tests := []struct {
		model color.Model
		want  ColorMode
	}{
		{color.RGBAModel, ColorModeTrueColor},
		{color.YCbCrModel, ColorModeTrueColor},
		{color.NRGBAModel, ColorModeAlpha},
		{color.NYCbCrAModel, ColorModeAlpha},
		{color.GrayModel, ColorModeGray},
		{color.CMYKModel, ColorModeCMYK},
		{color.Palette{color.Black, color.White}, ColorModePaletted},
	}
	for _, tt := range tests {
		if got := colorModeOf(tt.model); got != tt.want {
			t.Errorf("colorModeOf(%T) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		src  SourceImage
		want imaging.Format
	}{
		{SourceImage{Format: "jpeg", ColorMode: ColorModeTrueColor}, imaging.JPEG},
		{SourceImage{Format: "png", ColorMode: ColorModeTrueColor}, imaging.PNG},
		{SourceImage{Format: "png", ColorMode: ColorModeAlpha}, imaging.JPEG},
		{SourceImage{Format: "gif", ColorMode: ColorModePaletted}, imaging.JPEG},
		{SourceImage{Format: "webp", ColorMode: ColorModeTrueColor}, imaging.JPEG},
		{SourceImage{Format: "tiff", ColorMode: ColorModeGray}, imaging.TIFF},
	}
	for _, tt := range tests {
		if got := tt.src.OutputFormat(); got != tt.want {
			t.Errorf("%s/%s: got %v, want %v", tt.src.Format, tt.src.ColorMode, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("%w: x", ErrSourceNotFound), KindSourceNotFound},
		{fmt.Errorf("%w: x", ErrDecodeFailure), KindDecodeFailure},
		{fmt.Errorf("%w of 1 KB", ErrUnreachableTarget), KindUnreachableTarget},
		{fmt.Errorf("%w: bad", ErrInvalidRequest), KindInvalidRequest},
		{fmt.Errorf("%w: ctx", ErrCancelled), KindCancelled},
		{errors.New("disk full"), KindUnexpectedFailure},
	}
	for _, tt := range tests {
		if got := kindOf(tt.err); got != tt.want {
			t.Errorf("kindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestPercentageSaved(t *testing.T) {
	r := CompressionResult{Success: true, OriginalSize: 1000, FinalSize: 250}
	if got := r.PercentageSaved(); got != 75 {
		t.Errorf("got %v, want 75", got)
	}
	r.Success = false
	if got := r.PercentageSaved(); got != 0 {
		t.Errorf("failed run: got %v, want 0", got)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":          "photo_compressed.jpg",
		"/tmp/a.b/scan.PNG":  "/tmp/a.b/scan_compressed.PNG",
		"noext":              "noext_compressed",
		"dir/archive.tar.gz": "dir/archive.tar_compressed.gz",
	}
	for in, want := range tests {
		if got := DefaultOutputPath(in, "_compressed"); got != want {
			t.Errorf("DefaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}
