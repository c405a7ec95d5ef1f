// Package logging provides the process-wide zap logger.
//
// Logging is silent unless a level is requested with --log-level or
// STAGEHAND_LOG_LEVEL. Components receive a *zap.Logger explicitly;
// commands hand them Named loggers:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//	runner := runto.NewController(resolver, timeout, logging.Named("runto"))
//
// Field helpers keep target addresses and memory dumps consistent
// across components:
//
//	logger.Debug("breakpoint armed", logging.Address("address", 0x60000000))
//	logger.Warn("readback mismatch", logging.HexDump("got", data))
//
// Entries go to stderr in console format.
package logging
