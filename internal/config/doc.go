// Package config loads notifyctl configuration from YAML.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing. LoadAndValidate applies defaults for every optional field
// and then validates the result.
package config
