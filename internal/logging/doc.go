// Package logging builds the structured slog logger used across the service.
package logging
