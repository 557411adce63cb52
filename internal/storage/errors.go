package storage

import "github.com/pkg/errors"

var (
	ErrKeyNotFound         = errors.New("key does not exist in collection")
	ErrMissingKey          = errors.New("value has no key and collection does not auto increment")
	ErrCollectionNotFound  = errors.New("collection does not exist")
	ErrCollectionExists    = errors.New("collection already exists")
	ErrVersionMismatch     = errors.New("requested version is lower than the stored version")
	ErrDatabaseClosed      = errors.New("database already closed")
	ErrInvalidOptions      = errors.New("invalid database options")
	ErrNotInVersionChange  = errors.New("collections can only be changed during a version change")
	ErrDatabaseFileCorrupt = errors.New("database file is corrupted")
)
