// Package log provides structured logging for binlogtap using zerolog.
//
// Init configures the global Logger once at process start (level, JSON vs.
// console output). Long-lived components don't reach for the global
// directly — they take a zerolog.Logger built from WithComponent/WithTable/
// WithServerID so their log lines carry consistent structured fields
// regardless of which server id or table they're handling.
package log
