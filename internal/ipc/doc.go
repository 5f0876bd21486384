// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs that
// flatten daemon, pipeline and dispatch state into wire representations.
// Add new endpoints as a method on service plus a Client wrapper so both
// ends keep the same method names.
package ipc
