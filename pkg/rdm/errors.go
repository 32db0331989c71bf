package rdm

import "errors"

var (
	// ErrUnexpectedDomain is returned when a payload decoder is handed a
	// message of another domain.
	ErrUnexpectedDomain = errors.New("rdm: unexpected domain")

	// ErrInvalidAction is returned for an undefined service map action.
	ErrInvalidAction = errors.New("rdm: invalid map action")
)
