package schema

import "fmt"

// ErrorKind classifies compile failures.
type ErrorKind string

const (
	ErrUnsupportedType   ErrorKind = "unsupported_type"
	ErrMissingProperties ErrorKind = "missing_properties"
	ErrInvalidSchema     ErrorKind = "invalid_schema"
)

// CompileError reports why a document could not be compiled and where.
type CompileError struct {
	Kind    ErrorKind
	Path    string
	Message string
}

func (e *CompileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

func compileErr(kind ErrorKind, path, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}
