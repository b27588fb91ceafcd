package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/hasher"
	"image-compressor-go/internal/history"
	"image-compressor-go/internal/metadata"
	"image-compressor-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const wsWriteTimeout = 5 * time.Second

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	compressor compressor.Compressor
	stats      *statistics.Statistics
	history    *history.Store
	exif       *metadata.EXIFReader

	// Current operation state
	operationMutex sync.RWMutex
	task           *compressor.Task
	jobDone        chan struct{}
	lastJob        *JobStatus
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CompressRequest is the body of POST /api/compress. Zero values take the
// configured defaults.
type CompressRequest struct {
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path,omitempty"`
	TargetKB   int    `json:"target_kb,omitempty"`
	MaxQuality int    `json:"max_quality,omitempty"`
	MinQuality int    `json:"min_quality,omitempty"`
}

// JobStatus describes the running or most recent job.
type JobStatus struct {
	ID           string  `json:"id"`
	SourcePath   string  `json:"source_path"`
	OutputPath   string  `json:"output_path"`
	TargetKB     int     `json:"target_kb"`
	Running      bool    `json:"running"`
	Percent      int     `json:"percent"`
	Message      string  `json:"message"`
	Success      bool    `json:"success"`
	Kind         string  `json:"kind,omitempty"`
	Phase        string  `json:"phase,omitempty"`
	Quality      int     `json:"quality,omitempty"`
	Scale        float64 `json:"scale,omitempty"`
	OriginalSize int64   `json:"original_size,omitempty"`
	FinalSize    int64   `json:"final_size,omitempty"`
	Checksum     string  `json:"checksum,omitempty"`
}

// InspectInfo is returned by GET /api/inspect.
type InspectInfo struct {
	Path      string         `json:"path"`
	MIME      string         `json:"mime"`
	Format    string         `json:"format"`
	ColorMode string         `json:"color_mode"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Size      int64          `json:"size"`
	SizeKB    float64        `json:"size_kb"`
	Checksum  string         `json:"checksum"`
	EXIF      *metadata.Info `json:"exif,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires the HTTP routes. store may be nil when history is disabled.
func NewServer(cfg *config.Config, log *logrus.Logger, comp compressor.Compressor,
	stats *statistics.Statistics, store *history.Store) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		compressor: comp,
		stats:      stats,
		history:    store,
		exif:       metadata.NewEXIFReader(log),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/history/{id}", s.handleHistoryRecord).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running job, waits until it is recorded and shuts the
// HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.RLock()
	task, done := s.task, s.jobDone
	s.operationMutex.RUnlock()
	if task != nil {
		task.Cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Wait blocks until the current job, if any, has been fully recorded.
func (s *Server) Wait() {
	s.operationMutex.RLock()
	done := s.jobDone
	s.operationMutex.RUnlock()
	if done != nil {
		<-done
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.task != nil && s.task.Running()
	var job *JobStatus
	if s.lastJob != nil {
		copied := *s.lastJob
		job = &copied
	}
	s.operationMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running": running,
			"job":     job,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var body CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if body.SourcePath == "" {
		s.writeError(w, "Source path is required", http.StatusBadRequest)
		return
	}

	req := s.cfg.Request()
	if body.TargetKB != 0 {
		req.TargetKB = body.TargetKB
	}
	if body.MaxQuality != 0 {
		req.MaxQuality = body.MaxQuality
	}
	if body.MinQuality != 0 {
		req.MinQuality = body.MinQuality
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	output := body.OutputPath
	if output == "" {
		output = compressor.DefaultOutputPath(body.SourcePath, s.cfg.Compression.OutputSuffix)
	}
	if filepath.Clean(output) == filepath.Clean(body.SourcePath) {
		s.writeError(w, "Output path must differ from source path", http.StatusBadRequest)
		return
	}

	job := compressor.Job{
		ID:         uuid.NewString(),
		SourcePath: body.SourcePath,
		OutputPath: output,
		Request:    req,
	}

	s.operationMutex.Lock()
	if s.task != nil {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.lastJob = &JobStatus{
		ID:         job.ID,
		SourcePath: job.SourcePath,
		OutputPath: job.OutputPath,
		TargetKB:   req.TargetKB,
		Running:    true,
		Message:    "Compression started",
	}
	s.stats.IncrementRunsStarted()
	// Progress is held back until compress_started has gone out.
	started := make(chan struct{})
	task := compressor.Start(context.Background(), s.compressor, job, s.progressFunc(job.ID, started))
	done := make(chan struct{})
	s.task, s.jobDone = task, done
	s.operationMutex.Unlock()

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"job_id":      job.ID,
		"source_path": job.SourcePath,
		"output_path": job.OutputPath,
		"target_kb":   req.TargetKB,
	})
	close(started)

	go s.finish(task, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
		Data:    map[string]string{"job_id": job.ID, "output_path": job.OutputPath},
	})
}

// progressFunc forwards progress of job id to the status and websocket
// clients. Broadcasts wait for started to close.
func (s *Server) progressFunc(id string, started <-chan struct{}) compressor.ProgressFunc {
	return func(percent int, message string, done bool) {
		s.operationMutex.Lock()
		if s.lastJob != nil && s.lastJob.ID == id {
			s.lastJob.Percent = percent
			s.lastJob.Message = message
		}
		s.operationMutex.Unlock()

		<-started
		s.broadcastWSMessage("progress", map[string]interface{}{
			"job_id":  id,
			"percent": percent,
			"message": message,
			"done":    done,
		})
	}
}

// finish records the result of task and closes done once clients are told.
func (s *Server) finish(task *compressor.Task, done chan struct{}) {
	defer close(done)

	res := task.Wait()
	s.stats.Record(res)

	if s.history != nil {
		if _, err := s.history.Save(task.Job.ID, res, task.Job.Request); err != nil {
			s.log.WithError(err).Warn("Failed to record run history")
		}
	}

	s.operationMutex.Lock()
	if s.lastJob != nil && s.lastJob.ID == task.Job.ID {
		s.lastJob.Running = false
		s.lastJob.Success = res.Success
		s.lastJob.Message = res.Message
		s.lastJob.Kind = res.Kind.String()
		s.lastJob.Phase = string(res.Phase)
		s.lastJob.Quality = res.Quality
		s.lastJob.Scale = res.Scale
		s.lastJob.OriginalSize = res.OriginalSize
		s.lastJob.FinalSize = res.FinalSize
		s.lastJob.Checksum = res.Checksum
	}
	s.task, s.jobDone = nil, nil
	s.operationMutex.Unlock()

	data := map[string]interface{}{
		"job_id":        task.Job.ID,
		"message":       res.Message,
		"kind":          res.Kind.String(),
		"original_size": res.OriginalSize,
		"final_size":    res.FinalSize,
	}
	if res.Success {
		data["phase"] = res.Phase
		data["quality"] = res.Quality
		data["scale"] = res.Scale
		data["output_path"] = res.OutputPath
		s.broadcastWSMessage("compress_completed", data)
	} else {
		s.broadcastWSMessage("compress_failed", data)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	task := s.task
	s.operationMutex.RUnlock()

	if task == nil {
		s.writeError(w, "No operation in progress", http.StatusBadRequest)
		return
	}
	task.Cancel()

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"job_id":  task.Job.ID,
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopped",
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	src, err := compressor.OpenSource(path)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, compressor.ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, err.Error(), status)
		return
	}

	info := InspectInfo{
		Path:      src.Path,
		MIME:      src.MIME,
		Format:    src.Format,
		ColorMode: string(src.ColorMode),
		Width:     src.Width,
		Height:    src.Height,
		Size:      src.Size,
		SizeKB:    float64(src.Size) / 1024,
		Checksum:  hasher.ContentHash(src.Data, 16),
	}
	if exifInfo, err := s.exif.Read(path); err == nil {
		info.EXIF = exifInfo
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Loaded image: %dx%d, size %.2f KB", info.Width, info.Height, info.SizeKB),
		Data:    info,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":    s.stats.GetSummary(),
			"errors":     s.stats.GetErrorSummary(),
			"counters":   s.stats.Snapshot(),
			"exif_cache": s.exif.GetCacheStats(),
		},
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: []history.Record{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.Recent(limit)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: records})
}

func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, "History is disabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.history.Get(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeError(w, fmt.Sprintf("No history record %s", id), http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: rec})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// clientCount returns the number of connected websocket clients.
func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{
		Type: messageType,
		Data: data,
	})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writers are serialized: a websocket connection supports one concurrent writer.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Debugf("Dropping WebSocket client: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
