// Package watcher merges fsnotify notifications from several root folders
// into a single stream of Created/Changed/Deleted/Renamed events.
//
// Each root has its own fsnotify watcher and goroutine. An overflow or
// backend error on one root restarts only that root, with exponential
// backoff, and rescans it so files written while events were lost still
// surface. Subdirectories are watched recursively, including ones created
// after Start.
package watcher
