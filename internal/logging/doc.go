// Package logging provides structured logging utilities for the calendai application.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Consistent attribute naming across the codebase
//   - Token sanitization for credential material
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "calendar.search")
//	logger.Info("searching events",
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("credential issued",
//	    "token", logging.SanitizeToken(token))
package logging
