package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// ErrNoEXIF is returned for files that carry no readable EXIF block.
var ErrNoEXIF = errors.New("no EXIF metadata")

// Info is the EXIF summary shown by inspect.
type Info struct {
	DateTime    *time.Time `json:"date_time,omitempty"`
	Make        string     `json:"make,omitempty"`
	Model       string     `json:"model,omitempty"`
	Software    string     `json:"software,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
}

// Compressed reports whether the Software tag carries the compressor mark.
func (i *Info) Compressed() bool {
	return strings.Contains(i.Software, SoftwareMark)
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	TotalQueries int64   `json:"total_queries"`
	HitRate      float64 `json:"hit_rate"`
}

// EXIFReader reads EXIF summaries, caching them per file version.
type EXIFReader struct {
	logger *logrus.Logger
	cache  *sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

// NewEXIFReader returns a new EXIFReader.
func NewEXIFReader(logger *logrus.Logger) *EXIFReader {
	return &EXIFReader{
		logger: logger,
		cache:  &sync.Map{},
	}
}

// Read returns the EXIF summary of filePath.
func (r *EXIFReader) Read(filePath string) (*Info, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := cacheKey(filePath, fileInfo)
	if value, ok := r.cache.Load(key); ok {
		r.count(true)
		if info, ok := value.(*Info); ok && info != nil {
			return info, nil
		}
		return nil, ErrNoEXIF
	}
	r.count(false)

	info, err := r.decode(filePath)
	if err != nil && !errors.Is(err, ErrNoEXIF) {
		return nil, err
	}
	r.cache.Store(key, info)
	return info, err
}

// GetCacheStats returns cache statistics for this reader.
func (r *EXIFReader) GetCacheStats() CacheStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := r.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (r *EXIFReader) decode(filePath string) (*Info, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		r.logger.Debugf("No EXIF in %s: %v", filePath, err)
		return nil, fmt.Errorf("%w: %v", ErrNoEXIF, err)
	}

	info := &Info{
		Make:     stringTag(x, exif.Make),
		Model:    stringTag(x, exif.Model),
		Software: stringTag(x, exif.Software),
	}
	if tm, err := x.DateTime(); err == nil {
		info.DateTime = &tm
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = v
		}
	}
	return info, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func cacheKey(filePath string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (r *EXIFReader) count(hit bool) {
	r.mutex.Lock()
	if hit {
		r.stats.Hits++
	} else {
		r.stats.Misses++
	}
	r.stats.TotalQueries++
	r.mutex.Unlock()
}
