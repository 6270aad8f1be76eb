package domain

import "errors"

var (
	ErrInvalidOption   = errors.New("invalid option")
	ErrEmptyQuestion   = errors.New("poll question must not be empty")
	ErrNoOptions       = errors.New("poll must declare at least one option")
	ErrEmptyOption     = errors.New("poll option must not be empty")
	ErrDuplicateOption = errors.New("duplicate poll option")
)
