// Package logging wraps log/slog with the attribute helpers, field-name
// constants, and console/JSON handlers shared by every pipeline component.
package logging
