// Package config loads, normalizes, and validates fabingest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FABINGEST_EQPID. The Config type centralizes the watch roots, the ordered
// classification rules, stabilization timing, dispatch tuning and the upload
// targets that bind folders to plugins.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
