package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrMissingDataDir indicates that the durable store directory is not configured
	ErrMissingDataDir = errors.New("dataDir is required in configuration")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
