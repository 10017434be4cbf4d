// Package config provides unified configuration loading for the
// FlowPulse client: defaults, then a YAML file, then environment
// variable overrides, in that precedence order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("flowpulse.yaml").
//	    WithEnvPrefix("FLOWPULSE").
//	    Load()
package config
