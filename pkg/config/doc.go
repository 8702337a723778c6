// Package config loads typed configuration structs from environment
// variables.
//
// It wraps github.com/joho/godotenv for local .env files and
// github.com/caarlos0/env for struct parsing. Every postpipe package
// declares its own env-tagged Config struct; this package is only the
// loading mechanism.
package config
