package validation

import "errors"

// ErrInvalidRule indicates a rule whose kind or constraints cannot be evaluated.
var ErrInvalidRule = errors.New("invalid validation rule")
