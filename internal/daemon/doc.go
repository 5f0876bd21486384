// Package daemon coordinates the long-running fabingest process.
//
// It wires the state store, the clock offset provider, the plugin registry,
// the ingestion pipeline and the retention cleaner into a single lifecycle,
// with a flock-based lock so only one daemon runs per state directory. The
// daemon also answers the control requests the IPC server forwards: status,
// plugin listing and reload, and dispatch history.
//
// Keep orchestration here. Stage logic belongs in the pipeline and its
// component packages.
package daemon
