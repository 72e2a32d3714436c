// Package server implements the UDP heartbeat listener and its optional monitoring HTTP API.
// The listener receives pulses on a single socket, prints one line per pulse and
// stops once no pulse has arrived within the silence timeout.
package server
