package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	DefaultFilePerm = 0666
	fileExt         = ".ldb"
	tmpExt          = ".tmp"
)

// dm - data model of a database file
type dm struct {
	Name        string         `json:"name"`
	Version     uint64         `json:"version"`
	Collections []collectionDM `json:"collections"`
}

type collectionDM struct {
	Name          string     `json:"name"`
	KeyPath       string     `json:"keyPath"`
	AutoIncrement bool       `json:"autoIncrement"`
	Seq           int64      `json:"seq"`
	Records       []recordDM `json:"records"`
}

type recordDM struct {
	K Key             `json:"k"`
	V json.RawMessage `json:"v"`
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

// DirExists reports whether path is an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.IsDir()
}

func databasePath(dir, name string) string {
	return filepath.Join(dir, name+fileExt)
}

func tmpPath(path string) string {
	return path + tmpExt
}

// writeSnapshot replaces the file at path atomically via a tmp file and rename.
func writeSnapshot(path string, d *dm) error {
	tmp := tmpPath(path)

	tmpF, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, DefaultFilePerm)
	if err != nil {
		return errors.Wrapf(err, "could not create tmp file %s", tmp)
	}

	e := json.NewEncoder(tmpF)
	if err := e.Encode(d); err != nil {
		_ = tmpF.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not write to tmp file %s", tmp)
	}

	if err := tmpF.Sync(); err != nil {
		_ = tmpF.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not sync tmp file %s", tmp)
	}

	if err := tmpF.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not close tmp file %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not replace %s with %s", path, tmp)
	}

	return nil
}

func readSnapshot(path string) (*dm, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read database file %s", path)
	}

	var d dm
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrapf(ErrDatabaseFileCorrupt, "%s: %v", path, err)
	}

	return &d, nil
}
