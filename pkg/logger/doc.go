// Package logger provides structured logging for igsync on top of zerolog.
//
// A Logger is immutable: WithField and friends return a child carrying the
// extra context, so one logger per component or per profile can be handed
// around freely.
//
//	log, err := logger.New(&cfg.Logging)
//	log = log.WithField("component", "orchestrator")
//	log.WithFields(map[string]interface{}{
//	    "profile":  "bar_x",
//	    "strategy": "official",
//	}).Info("Strategy attempt succeeded")
//
// Output is either colored console text or JSON lines; when a file is
// configured every record is also appended there as JSON.
package logger
