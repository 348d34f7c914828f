package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"crateclash/internal/config"
	"crateclash/logging"
	loggingSinks "crateclash/logging/sinks"
)

// newRouter builds the event router: the logrus console sink always, plus an
// NDJSON file sink when LOG_JSON_PATH is set. Traffic and key tracing are
// debug events, so enabling either lowers the router's minimum severity.
func newRouter(cfg config.Config, logger *logrus.Logger, lookup func(string) (string, bool)) (*logging.Router, func(context.Context) error, error) {
	logCfg := logging.DefaultConfig()
	if raw, ok := lookup("LOG_LEVEL"); ok {
		logCfg.MinimumSeverity = logging.ParseSeverity(raw)
	}
	if cfg.LogNetworkTraffic || cfg.LogKeyEvents {
		logCfg = logCfg.Tracing()
	}

	sinks := []logging.NamedSink{{Name: "console", Sink: loggingSinks.NewConsole(logger)}}

	var file *os.File
	if cfg.LogJSONPath != "" {
		f, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event log %s: %w", cfg.LogJSONPath, err)
		}
		file = f
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, logCfg.JSONFlushInterval)})
	}

	router := logging.NewRouter(logging.SystemClock{}, logCfg, logger, sinks)
	closeFn := func(ctx context.Context) error {
		err := router.Close(ctx)
		if file != nil {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
	return router, closeFn, nil
}
