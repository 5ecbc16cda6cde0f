package config

import (
	"errors"
	"fmt"
)

var (
	ErrConfigLoadFailed = errors.New("failed to load configuration")
	ErrInvalidConfig    = errors.New("configuration invalid")
	ErrMissingEnv       = errors.New("missing required environment variables")
)

// NewErrMissingEnv returns an error naming the environment variables a server
// entry requires but which are absent from both the entry and the ambient
// process environment.
func NewErrMissingEnv(server string, vars []string) error {
	return fmt.Errorf("%w: server '%s' requires: %v", ErrMissingEnv, server, vars)
}
