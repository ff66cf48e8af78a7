package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/austindbirch/taskhook/internal/config"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/notify"
)

// receiver is a stand-in chat webhook used for local runs and demos
type receiver struct {
	failFirstN int64
	delay      time.Duration
	count      atomic.Int64
	logger     *logging.Logger
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	return &receiver{
		failFirstN: int64(cfg.FailFirstN),
		delay:      time.Duration(cfg.ResponseDelayMS) * time.Millisecond,
		logger:     logger,
	}
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.count.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.delay > 0 {
		select {
		case <-time.After(rc.delay):
		case <-r.Context().Done():
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= rc.failFirstN {
		rc.logger.Plain().
			WithField("request", n).
			WithField("fail_first_n", rc.failFirstN).
			Warn("failing request on purpose")
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	var msg notify.Message
	if err := json.Unmarshal(b, &msg); err != nil {
		rc.logger.Plain().WithError(err).WithField("body", truncate(string(b), 160)).Warn("payload is not a chat message")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rc.logger.Plain().
		WithField("request", n).
		WithField("user_agent", r.UserAgent()).
		WithField("blocks", len(msg.Blocks)).
		WithField("text", truncate(msg.Text, 160)).
		Info("notification received")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv().FakeReceiver
	logger := logging.New("fake-receiver")

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      newReceiver(cfg, logger).routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	tlsEnabled := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	logger.Plain().
		WithField("addr", cfg.Port).
		WithField("tls", tlsEnabled).
		WithField("fail_first_n", cfg.FailFirstN).
		Info("fake-receiver listening")

	var err error
	if tlsEnabled {
		err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-receiver stopped")
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
