package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate indicates a write violated a uniqueness constraint, such as
// a second pending invitation for the same team and email.
var ErrDuplicate = errors.New("repository: duplicate")
