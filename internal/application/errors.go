package application

import "errors"

var (
	// ErrLocked is returned when a mutation entry point is hit while the
	// authentication gate is locked.
	ErrLocked = errors.New("application: editing is locked")
	// ErrInvalidCredentials is returned on a failed unlock attempt without
	// revealing which of the two fields was wrong.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrNotFound is returned when a referenced roster or mapping entry does
	// not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrBadImport is returned when an import document cannot be decoded;
	// existing state is left untouched.
	ErrBadImport = errors.New("application: malformed import document")
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
