package documents

import "errors"

// Domain errors for document identity parsing.
var (
	ErrInvalidPath     = errors.New("source path does not match <category>/<docNumber>/<file>")
	ErrUnknownCategory = errors.New("unknown document category")
)
