// Package fsio provides crash-safe file primitives for the durable stores.
// Every JSON/JSONL artifact on disk goes through WriteAtomic, and every
// store open goes through Recover, so readers only ever observe a complete
// file — either the previous one or the next one.
package fsio

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// RecoverResult describes what Recover found on disk.
type RecoverResult string

const (
	// RecoverOK means the main file is present and valid.
	RecoverOK RecoverResult = "ok"
	// Recovered means the main file was missing or corrupt and a valid
	// .tmp sibling was promoted in its place.
	Recovered RecoverResult = "recovered"
	// RecoverEmpty means there is nothing usable on disk.
	RecoverEmpty RecoverResult = "empty"
)

// WriteAtomic writes data to path via a temp file and rename.
// The rename is an atomic dirent swap on POSIX, so a crash mid-write
// leaves either the old complete file or a stray .tmp that Recover
// handles at next open.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Recover inspects path and its .tmp sibling during store initialization.
// validate defaults to json.Valid when nil.
//
// Ladder: main valid → drop stale .tmp, report ok. Main missing/corrupt
// but .tmp valid → promote .tmp, report recovered. Neither valid → delete
// the unparseable .tmp, report empty.
func Recover(path string, validate func([]byte) error) (RecoverResult, error) {
	if validate == nil {
		validate = func(b []byte) error {
			if !json.Valid(b) {
				return errors.New("invalid JSON")
			}
			return nil
		}
	}
	tmp := path + ".tmp"

	if data, err := os.ReadFile(path); err == nil {
		if validate(data) == nil {
			_ = os.Remove(tmp)
			return RecoverOK, nil
		}
	} else if !os.IsNotExist(err) {
		return RecoverEmpty, err
	}

	if data, err := os.ReadFile(tmp); err == nil {
		if validate(data) == nil {
			if err := os.Rename(tmp, path); err != nil {
				return RecoverEmpty, err
			}
			return Recovered, nil
		}
		_ = os.Remove(tmp)
	}

	return RecoverEmpty, nil
}
