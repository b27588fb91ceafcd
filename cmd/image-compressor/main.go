package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/hasher"
	"image-compressor-go/internal/history"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/metadata"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	outputPath   string
	targetKB     int
	maxQuality   int
	minQuality   int
	keepMetadata bool
	port         int
	historyLimit int
	version      = "dev"
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-compressor",
	Short: "Compress images to fit a target file size",
	Long: `image-compressor re-encodes an image so that the result fits a size
budget in kilobytes, keeping as much visual quality as possible.

It first lowers the encoder quality, then shrinks the pixel dimensions
with Lanczos resampling until the output fits. Images that already fit
are copied unchanged.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// compressCmd compresses a single image.
var compressCmd = &cobra.Command{
	Use:   "compress <source>",
	Short: "Compress an image to fit the target size",
	Long: `Compresses the source image so that the output is at most --target-kb
kilobytes. The output defaults to <name>_compressed<ext> next to the source.
Images with transparency or a palette are written as JPEG.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// inspectCmd shows what the compressor sees in a file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show image format, dimensions, size and EXIF summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with live progress over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// historyCmd lists recorded runs.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent compression runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <name>_compressed<ext>)")
	compressCmd.Flags().IntVar(&targetKB, "target-kb", compressor.DefaultTargetKB, "maximum output size in KB")
	compressCmd.Flags().IntVar(&maxQuality, "max-quality", compressor.DefaultMaxQuality, "quality the search starts from")
	compressCmd.Flags().IntVar(&minQuality, "min-quality", compressor.DefaultMinQuality, "lowest quality the search tries")
	compressCmd.Flags().BoolVar(&keepMetadata, "keep-metadata", false, "copy EXIF tags into JPEG outputs (requires exiftool)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

// runCompress executes a single compression and reports the outcome.
func runCompress(cmd *cobra.Command, source string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	req := cfg.Request()

	output := outputPath
	if output == "" {
		output = compressor.DefaultOutputPath(source, cfg.Compression.OutputSuffix)
	}

	comp := compressor.NewSizeCompressor(log)
	if cfg.Compression.KeepMetadata {
		copier, err := metadata.NewExiftoolCopier(log)
		if err != nil {
			log.WithError(err).Warn("Metadata will not be kept")
		} else {
			defer copier.Close()
			comp.SetMetadataCopier(copier)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := comp.Compress(ctx, source, output, req, printProgress)
	recordHistory(cfg, log, res, req)

	if !res.Success {
		if !quiet && res.Trials > 0 {
			fmt.Fprintln(os.Stderr)
		}
		return res.Err
	}

	if !quiet {
		fmt.Printf("%s -> %s\n", res.SourcePath, res.OutputPath)
		fmt.Printf("  %s -> %s (%.1f%% saved), %s\n",
			statistics.FormatBytes(res.OriginalSize),
			statistics.FormatBytes(res.FinalSize),
			res.PercentageSaved(),
			describe(res))
	}
	return nil
}

func describe(res compressor.CompressionResult) string {
	switch res.Phase {
	case compressor.PhasePassThrough:
		return "copied unchanged"
	case compressor.PhaseScale:
		return fmt.Sprintf("%s at scale %.0f%%, quality %d, %d trials", res.Format, res.Scale*100, res.Quality, res.Trials)
	default:
		return fmt.Sprintf("%s at quality %d, %d trials", res.Format, res.Quality, res.Trials)
	}
}

// printProgress renders progress on one stderr line.
func printProgress(percent int, message string, done bool) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "\r\033[K[%3d%%] %s", percent, message)
	if done {
		fmt.Fprintln(os.Stderr)
	}
}

func recordHistory(cfg *config.Config, log *logrus.Logger, res compressor.CompressionResult, req compressor.CompressionRequest) {
	if !cfg.History.Enabled {
		return
	}
	store, err := history.NewStore(cfg.History.DatabasePath)
	if err != nil {
		log.WithError(err).Warn("Run history unavailable")
		return
	}
	defer store.Close()
	if _, err := store.Save("", res, req); err != nil {
		log.WithError(err).Warn("Failed to record run history")
	}
}

// runInspect prints what the compressor would see for filePath.
func runInspect(filePath string) error {
	src, err := compressor.OpenSource(filePath)
	if err != nil {
		return err
	}

	fmt.Printf("File:       %s\n", src.Path)
	fmt.Printf("Type:       %s (%s)\n", src.MIME, src.Format)
	fmt.Printf("Loaded image: %dx%d, size %.2f KB\n", src.Width, src.Height, float64(src.Size)/1024)
	fmt.Printf("Color mode: %s\n", src.ColorMode)
	fmt.Printf("Checksum:   %s\n", hasher.ContentHash(src.Data, 16))
	if src.NeedsNormalization() {
		fmt.Println("Output:     JPEG (alpha or palette is flattened)")
	}

	info, err := metadata.NewEXIFReader(logger.Discard()).Read(filePath)
	switch {
	case errors.Is(err, metadata.ErrNoEXIF):
		fmt.Println("EXIF:       none")
	case err != nil:
		fmt.Printf("EXIF:       error: %v\n", err)
	default:
		if info.DateTime != nil {
			fmt.Printf("Taken:      %s\n", info.DateTime.Format("2006-01-02 15:04:05"))
		}
		if info.Make != "" || info.Model != "" {
			fmt.Printf("Camera:     %s %s\n", info.Make, info.Model)
		}
		if info.Orientation > 1 {
			fmt.Printf("Orientation: %d (applied on decode)\n", info.Orientation)
		}
		if info.Compressed() {
			fmt.Println("Note:       already produced by image-compressor")
		}
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.DatabasePath)
		if err != nil {
			log.WithError(err).Warn("Run history unavailable")
		} else {
			defer store.Close()
		}
	}

	comp := compressor.NewSizeCompressor(log)
	if cfg.Compression.KeepMetadata {
		if copier, err := metadata.NewExiftoolCopier(log); err != nil {
			log.WithError(err).Warn("Metadata will not be kept")
		} else {
			defer copier.Close()
			comp.SetMetadataCopier(copier)
		}
	}
	server := web.NewServer(cfg, log, comp, stats, store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Image compressor API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopErr := server.Stop(ctx)
	// The store is closed on return; the last run must be recorded first.
	server.Wait()
	if stopErr != nil {
		return fmt.Errorf("server shutdown failed: %w", stopErr)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if stats.Snapshot().RunsFailed > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}
	fmt.Println("Server stopped gracefully")
	return nil
}

// runHistory prints the most recent runs.
func runHistory() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := history.NewStore(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSOURCE\tRESULT\tSIZE\tTARGET")
	for _, r := range records {
		result := r.Phase
		if !r.Success {
			result = "failed: " + r.Kind
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\t%d KB\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.SourcePath,
			result,
			statistics.FormatBytes(r.OriginalSize),
			statistics.FormatBytes(r.FinalSize),
			r.TargetKB)
	}
	return w.Flush()
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("target-kb") {
		cfg.Compression.TargetKB = targetKB
	}
	if flags.Changed("max-quality") {
		cfg.Compression.MaxQuality = maxQuality
	}
	if flags.Changed("min-quality") {
		cfg.Compression.MinQuality = minQuality
	}
	if flags.Changed("keep-metadata") {
		cfg.Compression.KeepMetadata = keepMetadata
	}

	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	opts := cfg.LogOptions()

	if verbose {
		opts.Level = "debug"
		opts.Console = true
	}
	if quiet {
		opts.Level = "error"
	}

	log, err := logger.New(opts)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
