// Package config provides configuration loading and validation for the heartbeat listener.
// The defaults reproduce the fixed listener constants (UDP port 12000, 10 second silence
// timeout, 1024 byte datagrams); an optional YAML file can override them.
package config
