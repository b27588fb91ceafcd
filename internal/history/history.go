package history

import (
	"fmt"
	"time"

	"image-compressor-go/internal/compressor"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one finished compression run.
type Record struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	RunID        string    `gorm:"uniqueIndex;size:36" json:"run_id"`
	SourcePath   string    `json:"source_path"`
	OutputPath   string    `json:"output_path"`
	TargetKB     int       `json:"target_kb"`
	OriginalSize int64     `json:"original_size"`
	FinalSize    int64     `json:"final_size"`
	Format       string    `json:"format"`
	Phase        string    `json:"phase"`
	Quality      int       `json:"quality"`
	Scale        float64   `json:"scale"`
	Trials       int       `json:"trials"`
	Success      bool      `gorm:"index" json:"success"`
	Kind         string    `json:"kind"`
	Message      string    `gorm:"type:text" json:"message"`
	Checksum     string    `json:"checksum"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// Store handles run history persistence
type Store struct {
	db *gorm.DB
}

// NewStore opens the sqlite database at dbPath and migrates the schema.
// ":memory:" gives a private in-process database.
func NewStore(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; an in-memory database also lives on one connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return &Store{db: db}, nil
}

// Save stores a finished run under runID and returns the stored record.
// An empty runID gets a fresh one.
func (s *Store) Save(runID string, res compressor.CompressionResult, req compressor.CompressionRequest) (*Record, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rec := &Record{
		RunID:        runID,
		SourcePath:   res.SourcePath,
		OutputPath:   res.OutputPath,
		TargetKB:     req.TargetKB,
		OriginalSize: res.OriginalSize,
		FinalSize:    res.FinalSize,
		Format:       res.Format,
		Phase:        string(res.Phase),
		Quality:      res.Quality,
		Scale:        res.Scale,
		Trials:       res.Trials,
		Success:      res.Success,
		Kind:         res.Kind.String(),
		Message:      res.Message,
		Checksum:     res.Checksum,
	}
	if !res.FinishedAt.IsZero() {
		rec.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	}

	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("save history record: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	if err := s.db.Order("created_at desc, id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return records, nil
}

// Get returns the record with the given run id.
func (s *Store) Get(runID string) (*Record, error) {
	var rec Record
	if err := s.db.Where("run_id = ?", runID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
