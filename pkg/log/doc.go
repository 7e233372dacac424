/*
Package log provides structured logging for lanchat using zerolog.

All packages log through a single global zerolog.Logger, initialized once
at process start via Init and refined per subsystem with the With*
helpers. Output is JSON for machine consumption or a console writer for
humans, switched by configuration.

# Usage

Initialize once in main, before any component starts:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
	})

Subsystems derive a tagged child logger rather than logging through the
global directly:

	logger := log.WithComponent("channel")
	logger.Info().Str("addr", addr).Msg("listening")

WithPeer and WithContact tag log lines with a remote endpoint or a contact
key, which is how a single node's interleaved conversations stay greppable.

# Levels

Protocol-level drops (malformed datagrams, AEAD failures, unknown packet
types) are logged at Debug only: they are routine on a hostile or lossy
network and must never surface at user level. Info covers lifecycle events
(listening, identity loaded, peer discovered); Error is reserved for
persistence failures and other conditions an operator should see.
*/
package log
