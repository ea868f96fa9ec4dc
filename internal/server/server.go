package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/config"
	"github.com/raaihank/langmodel/internal/inference"
	"github.com/raaihank/langmodel/internal/logger"
	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/vector"
	"github.com/raaihank/langmodel/internal/websocket"
)

// Version is reported by /info.
var Version = "0.1.0"

// Extractor turns texts into vectors. *inference.Inferencer implements it.
type Extractor interface {
	ExtractVectors(ctx context.Context, texts []string) ([]pooling.Prediction, error)
	SetExtraction(e pooling.Extraction) error
	Info() inference.Info
}

// Searcher finds stored vectors. *vector.Store implements it.
type Searcher interface {
	FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error)
	GetStats(ctx context.Context) (*vector.VectorStats, error)
}

// Server serves vector extraction over HTTP
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	extractor Extractor
	searcher  Searcher
	wsHub     *websocket.Hub
	limiter   *rateLimiter
	router    *mux.Router
	server    *http.Server
	startTime time.Time
	done      chan struct{}

	totalRequests atomic.Int64
	totalVectors  atomic.Int64
}

// New creates a server. hub and searcher may be nil.
func New(cfg *config.Config, log *logger.Logger, extractor Extractor, hub *websocket.Hub, searcher Searcher) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		extractor: extractor,
		searcher:  searcher,
		wsHub:     hub,
		router:    mux.NewRouter(),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/families", s.handleFamilies).Methods(http.MethodGet)
	api.HandleFunc("/vectors", s.handleVectors).Methods(http.MethodPost)
	api.HandleFunc("/extraction", s.handleGetExtraction).Methods(http.MethodGet)
	api.HandleFunc("/extraction", s.handleSetExtraction).Methods(http.MethodPut)
	if s.searcher != nil {
		api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
		api.HandleFunc("/store/stats", s.handleStoreStats).Methods(http.MethodGet)
	}
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	info := s.extractor.Info()
	s.logger.Info("Starting langmodel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("model", info.Name),
		zap.String("family", string(info.Family)),
		zap.String("extraction", info.Extraction.String()),
		zap.Bool("store", s.searcher != nil),
		zap.Bool("websocket", s.wsHub != nil),
	)

	if s.limiter != nil {
		go s.limiter.cleanupLoop(s.done, 10*time.Minute)
	}
	if s.wsHub != nil {
		go s.statusLoop(30 * time.Second)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping langmodel server")
	close(s.done)
	return s.server.Shutdown(ctx)
}

// statusLoop broadcasts a system status event every interval.
func (s *Server) statusLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	status := websocket.SystemStatusEvent{
		Status:        "healthy",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Model:         s.extractor.Info().Name,
		TotalRequests: s.totalRequests.Load(),
		TotalVectors:  s.totalVectors.Load(),
	}
	if s.wsHub != nil {
		status.ConnectedClients = s.wsHub.ActiveConnections()
	}
	return status
}
