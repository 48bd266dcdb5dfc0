// Package config loads, normalizes, and validates cogcomfy configuration.
//
// It supplies repository defaults that mirror the fixed layout the adapter
// has always used (/tmp/inputs, /tmp/outputs, ComfyUI/temp, ./checkpoints),
// expands user paths, reads TOML files and honours the
// COGCOMFY_SERVER_ADDRESS override. Scratch directories are plain
// configuration so tests can point them at temporary directories.
package config
