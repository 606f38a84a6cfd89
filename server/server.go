// Package server exposes the delivery core over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/lifecycle"
	"github.com/josuehernandeztapia/conductores-delivery/repository"
	"github.com/josuehernandeztapia/conductores-delivery/trigger"
)

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr  string
	server    *http.Server
	logger    *zap.Logger
	startTime time.Time

	repo      *repository.Repository
	lifecycle *lifecycle.Service
	engine    *trigger.Engine
}

// NewWebServer creates a new web server
func NewWebServer(httpPort string, repo *repository.Repository, lc *lifecycle.Service, engine *trigger.Engine, logger *zap.Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:    logger,
		startTime: time.Now(),
		repo:      repo,
		lifecycle: lc,
		engine:    engine,
	}

	// Register routes
	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/debug", ws.handleDebug)
	mux.Handle("/metrics", promhttp.Handler())
	// Delivery endpoints
	mux.HandleFunc("/deliveries", ws.handleDeliveries)
	mux.HandleFunc("/deliveries/", ws.handleDeliveryAPI)
	mux.HandleFunc("/stats", ws.handleStats)
	// Trigger endpoints
	mux.HandleFunc("/triggers/scan", ws.handleForceScan)
	mux.HandleFunc("/triggers/rules", ws.handleTriggerRules)
	mux.HandleFunc("/triggers/events", ws.handleTriggerEvents)

	return ws
}

// Start starts the web server
func (ws *WebServer) Start() {
	ws.logger.Info("starting web server", zap.String("addr", ws.httpAddr))
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows the service banner
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "conductores-delivery",
		"uptime":  time.Since(ws.startTime).String(),
	})
}

// handleDebug provides debugging information: uptime plus the tail of the
// trigger scan journal.
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	debugInfo := map[string]any{
		"uptime":     time.Since(ws.startTime).String(),
		"started_at": ws.startTime,
	}
	cycles, err := ws.engine.JournalTail(10)
	if err != nil {
		debugInfo["scan_journal_error"] = err.Error()
	} else {
		debugInfo["recent_scans"] = cycles
	}
	writeJSON(w, http.StatusOK, debugInfo)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(body)
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, struct {
		Error string `json:"error"`
	}{Error: message})
}
