// Package config loads portfolio-deploy configuration. Sources are applied
// in order: compiled defaults, an optional YAML file, an optional KEY=value
// env file, then the process environment. The result is validated with
// go-playground/validator before use.
package config
