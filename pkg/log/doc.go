// Package log captures the protocol activity of a comlink endpoint as
// a stream of structured events.
//
// Two logging worlds coexist in comlink. Operational logging (slog)
// tells a human what the process is doing right now; this package
// records what the protocol did, event by event, in a machine-readable
// form that survives the connection and can be analyzed offline.
//
// Endpoints publish events through the Logger interface. FileLogger
// appends CBOR-encoded events to a .clog file, SlogAdapter mirrors
// them onto an slog.Logger for development, and MultiLogger fans out
// to several sinks at once. The comlink-log command reads .clog files
// back (view, filter, export, stats).
//
// An Event names its connection, direction, and layer, and carries at
// most one payload: a command crossing the wire, a key exchange step,
// a connection state transition, or an error. Bootstrap frames hold
// PEM key text, so their command events set Suppressed and record a
// key fingerprint in place of the arguments; a .clog file never holds
// key material.
package log
