package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"watchtrackd/internal/bus"
	"watchtrackd/internal/detector"
	"watchtrackd/internal/models"
)

// Tunables are the policy knobs the browser-side glue fetches at startup so
// both sides agree on thresholds and timing.
type Tunables struct {
	ThresholdPercent float64 `json:"thresholdPercent"`
	SettleDelayMs    int64   `json:"settleDelayMs"`
	PollIntervalMs   int64   `json:"pollIntervalMs"`
}

// Server is the HTTP boundary of the agent: the browser-side glue posts
// playback signals to it and drives the message protocol through it.
type Server struct {
	detector *detector.Detector
	client   *bus.Client
	tunables Tunables
	log      *logrus.Logger
	address  string
	server   *http.Server
}

func NewServer(det *detector.Detector, client *bus.Client, address string, tunables Tunables, log *logrus.Logger) *Server {
	return &Server{
		detector: det,
		client:   client,
		tunables: tunables,
		log:      log,
		address:  address,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleSignals feeds a batch of playback signals through the detector.
// Recorded watches are acked in the response so the glue can update its view
// without a second round trip.
func (s *Server) handleSignals(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.SignalBatch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Signals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var acks []detector.Ack
	for _, sig := range batch.Signals {
		if ack := s.detector.Handle(sig); ack != nil {
			acks = append(acks, *ack)
		}
	}
	if len(acks) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]detector.Ack{"recorded": acks})
}

// handleMessage dispatches one protocol request. Any failure answers with a
// JSON null body: the caller must treat that as "unknown", never as a
// confirmed empty result.
func (s *Server) handleMessage(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req bus.Request
	if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	raw, outcome := s.client.Send(req)
	if outcome != bus.OutcomeDelivered {
		w.Write([]byte("null"))
		return
	}
	w.Write(raw)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tunables)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/signals", s.handleSignals)
	mux.HandleFunc("/message", s.handleMessage)
	return mux
}

func (s *Server) Start() error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s.log.Infof("watchtrackd agent listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-shutdownChannel
	s.log.Info("shutting down server")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		s.log.WithError(err).Fatal("server forced to shutdown")
	}

	s.log.Info("server exited")
	return nil
}
