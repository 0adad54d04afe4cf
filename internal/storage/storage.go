package storage

import "errors"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record already exists or changed")
)
