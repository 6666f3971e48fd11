// Package config loads the relayd configuration from a YAML file and applies
// RELAY_* environment overrides for addresses and secrets.
package config
