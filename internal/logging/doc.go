// Package logging provides opt-in file logging with rotation for docindex.
// With --debug, JSON logs are written to ~/.docindex/logs/ and can be read
// back with `docindex logs`.
//
// Without --debug, only warnings and errors go to stderr.
package logging
