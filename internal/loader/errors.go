package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSpecifier is returned for imports that are neither
	// relative, remote identifiers nor URLs.
	ErrUnsupportedSpecifier = errors.New("unsupported import specifier")
	// ErrInvalidRemoteIdentifier is returned for malformed remote identifiers.
	ErrInvalidRemoteIdentifier = errors.New("invalid remote identifier")
	// ErrRemoteNotFound is returned when a remote identifier denotes a path
	// or ref that does not exist.
	ErrRemoteNotFound = errors.New("remote module not found")
	// ErrModuleNotFound is returned when no local candidate exists.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleTooLarge is returned for sources above the size limit.
	ErrModuleTooLarge = errors.New("module exceeds size limit")
)

// ErrorKind classifies a FileError.
type ErrorKind string

const (
	KindResolution ErrorKind = "resolution"
	KindCompile    ErrorKind = "compile"
	KindEvaluation ErrorKind = "evaluation"
	KindLimit      ErrorKind = "limit"
)

// FileError is a load failure attributed to one module.
type FileError struct {
	// File is the module the error belongs to. For resolution errors it is
	// the importing module.
	File string
	Kind ErrorKind
	// Specifier is set for resolution errors.
	Specifier string
	Err       error
}

func (e *FileError) Error() string {
	if e.Specifier != "" {
		return fmt.Sprintf("%s: %s error for import '%s': %v", e.File, e.Kind, e.Specifier, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.File, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
