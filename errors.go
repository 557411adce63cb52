package lemonproxy

import (
	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/pkg/errors"
)

var (
	ErrInvalidConfig       = errors.New("lemonproxy: invalid configuration")
	ErrStorageUnavailable  = errors.New("lemonproxy: storage is not available")
	ErrUnableToLoadRecords = errors.New("lemonproxy: unable to load records")
	ErrProxyClosed         = errors.New("lemonproxy: proxy already closed")

	ErrVersionMismatch    = storage.ErrVersionMismatch
	ErrCollectionNotFound = storage.ErrCollectionNotFound
	ErrInvalidKey         = storage.ErrInvalidKey
)
