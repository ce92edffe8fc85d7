// Package config defines the typed settings consumed by the platform
// backend selectors and provides loading from environment variables and
// an optional config file. Settings are resolved once at process startup
// and injected; hot-path code never re-reads the environment.
package config
