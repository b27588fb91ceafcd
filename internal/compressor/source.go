package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ColorMode is the pixel representation reported by the source decoder.
type ColorMode string

const (
	ColorModeGray      ColorMode = "gray"
	ColorModeTrueColor ColorMode = "truecolor"
	ColorModeAlpha     ColorMode = "truecolor+alpha"
	ColorModePaletted  ColorMode = "paletted"
	ColorModeCMYK      ColorMode = "cmyk"
)

// encodableFormats maps decoder names to the formats imaging can write.
// WebP is decode-only and falls back to JPEG.
var encodableFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
}

// SourceImage is a source file together with its decoded pixels and metadata.
// It must not be modified once loaded.
type SourceImage struct {
	Path      string
	Data      []byte
	Size      int64
	MIME      string
	Format    string
	ColorMode ColorMode
	Width     int
	Height    int
	Image     image.Image
}

// OpenSource reads a source file and probes its header without decoding pixels.
func OpenSource(path string) (*SourceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("read source: %w", err)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is %s", ErrDecodeFailure, path, mime.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	return &SourceImage{
		Path:      path,
		Data:      data,
		Size:      int64(len(data)),
		MIME:      mime.String(),
		Format:    format,
		ColorMode: colorModeOf(cfg.ColorModel),
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

// LoadSource opens and fully decodes a source image.
func LoadSource(path string) (*SourceImage, error) {
	src, err := OpenSource(path)
	if err != nil {
		return nil, err
	}
	if err := src.Decode(); err != nil {
		return nil, err
	}
	return src, nil
}

// Decode decodes the pixel buffer, applying the EXIF orientation.
func (s *SourceImage) Decode() error {
	if s.Image != nil {
		return nil
	}
	img, err := imaging.Decode(bytes.NewReader(s.Data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	s.Image = img
	s.Width = img.Bounds().Dx()
	s.Height = img.Bounds().Dy()
	return nil
}

// NeedsNormalization reports whether the source carries an alpha or palette
// channel that cannot round-trip through JPEG.
func (s *SourceImage) NeedsNormalization() bool {
	return s.ColorMode == ColorModeAlpha || s.ColorMode == ColorModePaletted
}

// OutputFormat returns the format every trial is encoded with.
func (s *SourceImage) OutputFormat() imaging.Format {
	if s.NeedsNormalization() {
		return imaging.JPEG
	}
	if f, ok := encodableFormats[s.Format]; ok {
		return f
	}
	return imaging.JPEG
}

// colorModeOf classifies a decoder color model.
func colorModeOf(m color.Model) ColorMode {
	if _, ok := m.(color.Palette); ok {
		return ColorModePaletted
	}
	switch m {
	case color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel, color.AlphaModel, color.Alpha16Model:
		return ColorModeAlpha
	case color.GrayModel, color.Gray16Model:
		return ColorModeGray
	case color.CMYKModel:
		return ColorModeCMYK
	default:
		return ColorModeTrueColor
	}
}

// flatten converts img to opaque truecolor by discarding its alpha channel.
func flatten(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
