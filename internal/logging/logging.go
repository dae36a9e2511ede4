// Package logging constructs the process-wide zap logger.
package logging

import "go.uber.org/zap"

// New builds a zap.Logger suited to env ("production" or anything else).
// Every cmd/* binary builds exactly one of these and threads it through
// constructors; nothing in internal/* reaches for a package-level logger.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
