// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	bridgeLog := logger.WithComponent("bridge").WithAgent("researcher")
//	bridgeLog.Info("bridge.call.start", "tool", "research")
//
// Credentials never appear in log attributes; core.Credentials redacts itself
// when formatted.
package logging
