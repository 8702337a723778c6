// Package logger builds configured log/slog loggers for postpipe services.
//
// The factory defaults to JSON output at INFO level, which is what the
// delivery pipeline runs with in production. Development setups switch to
// the text handler via WithDevelopment.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithProduction("postpipe"),
//	    logger.WithAttr(slog.String("component", "dispatcher")),
//	)
//	log.Info("dispatcher started")
//
// Loggers are passed to services through their functional options; nothing
// in this module reads the process-global default logger.
package logger
