package ipc

import "time"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon pipeline.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// PluginActivity is the last-dispatch bookkeeping for one plugin.
type PluginActivity struct {
	Plugin      string    `json:"plugin"`
	LastPath    string    `json:"last_path"`
	LastAt      time.Time `json:"last_at"`
	LastOutcome string    `json:"last_outcome"`
	Dispatched  int       `json:"dispatched"`
	Failures    int       `json:"failures"`
}

// PoolStats mirrors workers.Stats on the wire.
type PoolStats struct {
	Size      int    `json:"size"`
	Running   int    `json:"running"`
	Waiting   int    `json:"waiting"`
	Completed uint64 `json:"completed"`
}

// Disk reports free space for one monitored folder.
type Disk struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	Error      string `json:"error"`
}

// StatusResponse represents combined daemon and pipeline status.
type StatusResponse struct {
	Running       bool             `json:"running"`
	PID           int              `json:"pid"`
	StartedAt     time.Time        `json:"started_at"`
	LockPath      string           `json:"lock_path"`
	DatabasePath  string           `json:"database_path"`
	PluginDir     string           `json:"plugin_dir"`
	Roots         []string         `json:"roots"`
	Rules         int              `json:"rules"`
	Uploads       int              `json:"uploads"`
	Pending       int              `json:"pending"`
	Classified    uint64           `json:"classified"`
	Skipped       uint64           `json:"skipped"`
	CopyErrors    uint64           `json:"copy_errors"`
	WatchEvents   uint64           `json:"watch_events"`
	WatchRestarts uint64           `json:"watch_restarts"`
	WatchDegraded int              `json:"watch_degraded"`
	ClassifyPool  PoolStats        `json:"classify_pool"`
	DispatchPool  PoolStats        `json:"dispatch_pool"`
	Plugins       []PluginActivity `json:"plugins"`
	ClockOffsetMS int64            `json:"clock_offset_ms"`
	LastSync      time.Time        `json:"last_sync"`
	LastSyncError string           `json:"last_sync_error"`
	Disks         []Disk           `json:"disks"`
}

// PluginListRequest lists loaded plugins.
type PluginListRequest struct{}

// PluginInfo describes a loaded plugin.
type PluginInfo struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Kind     string    `json:"kind"`
	Source   string    `json:"source"`
	Started  bool      `json:"started"`
	LoadedAt time.Time `json:"loaded_at"`
}

// PluginListResponse contains the loaded plugins sorted by name.
type PluginListResponse struct {
	Plugins []PluginInfo `json:"plugins"`
}

// PluginReloadRequest reloads manifests from the plugin folder.
type PluginReloadRequest struct{}

// PluginFailure is a manifest entry that failed to load.
type PluginFailure struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// PluginReloadResponse summarizes a reload.
type PluginReloadResponse struct {
	Loaded   []string        `json:"loaded"`
	Disabled []string        `json:"disabled"`
	Failed   []PluginFailure `json:"failed"`
}

// HistoryRequest filters dispatch history.
type HistoryRequest struct {
	Plugin  string `json:"plugin"`
	Outcome string `json:"outcome"`
	Limit   int    `json:"limit"`
}

// HistoryEntry is one dispatch attempt.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Plugin     string    `json:"plugin"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// HistoryResponse lists dispatch attempts newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
