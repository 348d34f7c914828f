package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"time"

	"crateclash/internal/hub"
	"crateclash/internal/net/proto"
	"crateclash/internal/telemetry"
	"crateclash/logging"
)

// Authority is the part of the hub the HTTP surface reads and drives.
type Authority interface {
	DiagnosticsSnapshot() hub.Diagnostics
	ResetWorld(seed int64)
}

type HTTPHandlerConfig struct {
	Logger     telemetry.Logger
	Counters   *telemetry.Counters
	Router     *logging.Router
	TickPeriod time.Duration
	// Socket serves /ws. It is usually a *ws.Handler.
	Socket nethttp.Handler
	Now    func() time.Time
}

func NewHTTPHandler(authority Authority, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			TickMillis float64           `json:"tickMillis"`
			Hub        hub.Diagnostics   `json:"hub"`
			Telemetry  map[string]uint64 `json:"telemetry"`
			Logging    any               `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: now().UnixMilli(),
			TickMillis: float64(cfg.TickPeriod) / float64(time.Millisecond),
			Hub:        authority.DiagnosticsSnapshot(),
			Telemetry:  cfg.Counters.Snapshot(),
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Logging = map[string]uint64{
				"eventsTotal":  stats.EventsTotal,
				"droppedTotal": stats.DroppedTotal,
				"sinkFailures": stats.SinkFailures,
			}
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/world/reset", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		type resetRequest struct {
			Seed *int64 `json:"seed"`
		}

		seed := now().UnixNano()
		if r.Body != nil {
			defer r.Body.Close()
			var req resetRequest
			decoder := json.NewDecoder(r.Body)
			if err := decoder.Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
			if req.Seed != nil {
				seed = *req.Seed
			}
		}

		authority.ResetWorld(seed)
		logger.Printf("[http] world reset requested with seed %d", seed)

		writeJSON(w, logger, struct {
			Status string `json:"status"`
			Seed   int64  `json:"seed"`
		}{Status: "ok", Seed: seed})
	})

	mux.HandleFunc("/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, proto.Schema())
	})

	if cfg.Socket != nil {
		mux.Handle("/ws", cfg.Socket)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("[http] failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
