// Package pipeline composes the ingestion stages.
//
// Files written under the watch roots flow through
//
//	watcher.Registry -> stabilize.Debouncer -> classify.Engine -> dispatch.Dispatcher
//
// Classification and dispatch each run on their own worker pool. Upload
// targets decide which plugin sees a file and how: a "classified" target is
// dispatched right after a file is copied into its folder, a "watch" target
// gets its own watch and debounce stage on the folder. With plugins.watch
// enabled a third watch on the plugin folder reloads the registry when a
// manifest changes.
//
// Start and Stop are idempotent. Stop tears down every watch and sweep,
// lets accepted work finish and rejects anything that arrives later.
package pipeline
