// Package client sends heartbeat pulses to a listener.
package client
