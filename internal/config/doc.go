// Package config loads, normalizes, and validates bundlex configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: upload/output/log directories, HTTP bind address,
// admission and rate limits, worker pool sizing, and retention windows.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
