// Package logging wraps log/slog for the CSE. Every record carries the
// service name and version; the level, format, and destination come
// from the logging section of the configuration file. Components take a
// *Logger and tag themselves with With("component", ...).
//
// Never log originator credentials or resource content wholesale; log
// identifiers and let the tree hold the data.
package logging
