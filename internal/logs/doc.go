// Package logs reads daemon log files for the CLI.
//
// Tail returns the last N lines (optionally filtered by a substring such as a
// plugin name or event type) together with the byte offset to resume from.
// Follow streams lines appended after that offset, waking on fsnotify write
// events for the resolved file instead of polling. Both work on the
// fabingest.log pointer: it is resolved to the current run's log first.
package logs
