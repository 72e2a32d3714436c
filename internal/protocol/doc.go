// Package protocol decodes heartbeat pulse payloads.
// A pulse is free-form UTF-8 text; senders in this repository use an
// incrementing decimal counter.
package protocol
