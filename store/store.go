// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package store implements a directory backed kernel image store, shared
// between processes through a lock file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

const (
	lockFilename = ".lock"
	imageExt     = ".kimg"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrInvalidName = errors.New("invalid image name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Store represents a kernel image directory.
type Store struct {
	dir  string
	lock *flock.Flock
}

// Open returns the image store rooted at dir, creating it if necessary.
func Open(dir string) (s *Store, err error) {
	if err = os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create image store %q, %w", dir, err)
	}

	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFilename)),
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w (%q)", ErrInvalidName, name)
	}

	return filepath.Join(s.dir, name+imageExt), nil
}

func (s *Store) locked(exclusive bool, fn func() error) (err error) {
	if exclusive {
		err = s.lock.Lock()
	} else {
		err = s.lock.RLock()
	}

	if err != nil {
		return fmt.Errorf("could not lock image store %q, %w", s.dir, err)
	}

	defer s.lock.Unlock()

	return fn()
}

// Put stores an image under name, replacing any previous one.
func (s *Store) Put(name string, blob []byte) (err error) {
	path, err := s.path(name)

	if err != nil {
		return
	}

	return s.locked(true, func() (err error) {
		f, err := os.CreateTemp(s.dir, name+".*.tmp")

		if err != nil {
			return
		}

		defer os.Remove(f.Name())

		if _, err = f.Write(blob); err != nil {
			f.Close()
			return
		}

		if err = f.Close(); err != nil {
			return
		}

		return os.Rename(f.Name(), path)
	})
}

// Get returns the image stored under name.
func (s *Store) Get(name string) (blob []byte, err error) {
	path, err := s.path(name)

	if err != nil {
		return
	}

	err = s.locked(false, func() (err error) {
		blob, err = os.ReadFile(path)

		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w (%s)", ErrNotFound, name)
		}

		return
	})

	return
}

// Delete removes the image stored under name.
func (s *Store) Delete(name string) (err error) {
	path, err := s.path(name)

	if err != nil {
		return
	}

	return s.locked(true, func() (err error) {
		err = os.Remove(path)

		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w (%s)", ErrNotFound, name)
		}

		return
	})
}

// List returns the sorted names of the stored images.
func (s *Store) List() (names []string, err error) {
	err = s.locked(false, func() error {
		entries, err := os.ReadDir(s.dir)

		if err != nil {
			return err
		}

		for _, e := range entries {
			if name, ok := strings.CutSuffix(e.Name(), imageExt); ok && e.Type().IsRegular() {
				names = append(names, name)
			}
		}

		return nil
	})

	sort.Strings(names)

	return
}
