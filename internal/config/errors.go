package config

import "errors"

// Sentinel error kinds for this package.
var (
	// ErrInvalidConfig wraps validation failures, one message per field.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps failures reading the YAML file or environment.
	ErrLoadConfig = errors.New("load config failed")
	// ErrEnvFile marks a .env file that was named but could not be read.
	ErrEnvFile = errors.New("env file unreadable")
)
