// Package services defines the contracts shared by the ingestion pipeline,
// the host collaborators and the plugins.
//
// Key responsibilities:
//   - The Locator/Registry pair that hands typed capabilities (logger,
//     settings, database, clock, plugin options) to plugins at Initialize.
//   - Collaborator interfaces: Logger, Settings, Database and Clock.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (transient, configuration, plugin, missing service).
//   - Context helpers that stamp task IDs, plugin names and paths for
//     logging.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
