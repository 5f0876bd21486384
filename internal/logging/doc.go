// Package logging builds the slog loggers used across fabingest.
//
// Console output is tuned for operators tailing the daemon: a single header
// line per record followed by the most relevant attributes. JSON output is
// intended for log shippers. Helpers in this package standardize the field
// names (component, plugin, path, task_id) so records from the watcher, the
// classifier and plugins can be correlated.
package logging
