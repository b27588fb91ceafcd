package metadata

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// SoftwareMark is written to the Software tag of every output that keeps metadata.
const SoftwareMark = "image-compressor"

// carriedTags are copied from the source. Orientation is left out because
// pixels are already rotated at decode time.
var carriedTags = []string{
	"Make",
	"Model",
	"LensModel",
	"DateTimeOriginal",
	"CreateDate",
	"ModifyDate",
	"Artist",
	"Copyright",
	"ImageDescription",
	"ExposureTime",
	"FNumber",
	"ISO",
	"FocalLength",
	"GPSLatitude",
	"GPSLatitudeRef",
	"GPSLongitude",
	"GPSLongitudeRef",
	"GPSAltitude",
}

// ExiftoolCopier carries selected tags from a source file into an output
// file through a long-running exiftool process.
type ExiftoolCopier struct {
	logger *logrus.Logger
	et     *exiftool.Exiftool
	mu     sync.Mutex
}

// NewExiftoolCopier starts exiftool. It fails when the binary is not installed.
func NewExiftoolCopier(logger *logrus.Logger) (*ExiftoolCopier, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolCopier{logger: logger, et: et}, nil
}

// CopyMetadata writes the carried tags of srcPath into dstPath and marks it.
func (c *ExiftoolCopier) CopyMetadata(srcPath, dstPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := c.et.ExtractMetadata(srcPath)
	if len(files) == 0 {
		return errors.New("exiftool returned no metadata")
	}
	if files[0].Err != nil {
		return fmt.Errorf("read metadata: %w", files[0].Err)
	}

	out := exiftool.FileMetadata{File: dstPath, Fields: map[string]interface{}{}}
	copied := 0
	for _, tag := range carriedTags {
		if v, ok := files[0].Fields[tag]; ok {
			out.SetString(tag, fmt.Sprint(v))
			copied++
		}
	}
	out.SetString("Software", SoftwareMark)

	batch := []exiftool.FileMetadata{out}
	c.et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("write metadata: %w", batch[0].Err)
	}
	_ = os.Remove(dstPath + "_original")

	c.logger.WithField("file", dstPath).Debugf("Copied %d metadata tags", copied)
	return nil
}

// Close stops the exiftool process.
func (c *ExiftoolCopier) Close() error {
	return c.et.Close()
}
