package services

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound = errors.New("Project not found")
	ErrNoProject       = errors.New("No project found")
	ErrInvalidResponse = errors.New("Invalid response")
	ErrHierarchyCycle  = errors.New("project hierarchy references itself")
	ErrNameImmutable   = errors.New("project name cannot be changed on this plan")
	ErrInvalidName     = errors.New("project name must be 2-63 lowercase letters, digits or dashes")
	ErrNotOwner        = errors.New("only the project owner can perform this action")
	ErrMissingLicense  = errors.New("Missing license key")
)

// AuthorityError is a failure reported by, or while reaching, the license
// authority. Unreachable is set for transport failures and timeouts.
type AuthorityError struct {
	Status      int
	Message     string
	Unreachable bool
	Err         error
}

func (e *AuthorityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("license server unreachable: %v", e.Err)
	}
	return "license server error"
}

func (e *AuthorityError) Unwrap() error {
	return e.Err
}

// AsAuthorityError unwraps err into an *AuthorityError.
func AsAuthorityError(err error) (*AuthorityError, bool) {
	var authErr *AuthorityError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
