// Package logging builds the bridge's slog logger.
//
// Every record carries service=miio-bridge and the build version. The
// handler is JSON or text and writes to stdout or stderr:
//
//	logging:
//	  level: info   # debug | info | warn | error
//	  format: json  # json | text
//	  output: stdout
//
// Components receive a child logger tagged with their name, which satisfies
// the narrow Logger interfaces the packages declare:
//
//	log := logging.New(cfg.Logging, version)
//	invoker.SetLogger(log.Component("invoker"))
//
// Attributes named token or password are replaced with "[redacted]" at any
// depth. Devices and connection params also redact their own token when
// logged, so passing a device value as an attribute is safe.
package logging
