// Package main hosts the fabingest CLI entrypoint and command graph.
//
// The Cobra command tree starts and stops the daemon, renders its status,
// lists and reloads plugins over IPC, and offers offline utilities that work
// straight from the configuration and database: rule testing, dispatch
// history, the settings store, and config scaffolding.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
