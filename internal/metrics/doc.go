// Package metrics exposes Prometheus counters for received pulses and listener errors.
package metrics
