package storage

import "github.com/pkg/errors"

// VersionChange is handed to an UpgradeFunc while a database moves from
// OldVersion to NewVersion. OldVersion is 0 for a database that did not exist.
type VersionChange struct {
	db         *engine
	done       bool
	OldVersion uint64
	NewVersion uint64
}

func (vc *VersionChange) CollectionNames() []string {
	return vc.db.collectionNamesUnderLock()
}

func (vc *VersionChange) HasCollection(name string) bool {
	_, ok := vc.db.collections[name]
	return ok
}

func (vc *VersionChange) CreateCollection(name string, opts CollectionOptions) error {
	if vc.done {
		return ErrNotInVersionChange
	}

	if name == "" || opts.KeyPath == "" {
		return errors.Wrap(ErrInvalidOptions, "collection name and key path are required")
	}

	if vc.HasCollection(name) {
		return errors.Wrapf(ErrCollectionExists, "collection %s", name)
	}

	vc.db.collections[name] = newCollection(name, opts)
	return nil
}

func (vc *VersionChange) DeleteCollection(name string) error {
	if vc.done {
		return ErrNotInVersionChange
	}

	if !vc.HasCollection(name) {
		return errors.Wrapf(ErrCollectionNotFound, "collection %s", name)
	}

	delete(vc.db.collections, name)
	return nil
}
