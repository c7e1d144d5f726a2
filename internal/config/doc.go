// Package config loads relyq settings from defaults, an optional YAML or
// JSON file and RELYQ_-prefixed environment variables, in increasing order
// of precedence, and validates the result.
//
// Environment variable names are the upper-cased key path with dots replaced
// by underscores, e.g. RELYQ_STORE_BACKEND or RELYQ_QUEUE_ABANDONED_MS.
package config
