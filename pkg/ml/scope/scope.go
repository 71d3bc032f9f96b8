// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scope implements the store of variable values of a program: a mapping from the
// variable name to its value (a *tensors.Tensor).
//
// Values can be replaced in place (e.g. by a pruned version of the tensor), each with an
// optional placement hint (the device where the value is expected to be used).
//
// A Scope can be saved to and loaded from a single gob encoded file, see Scope.Save and Load.
package scope

import (
	"encoding/gob"
	"os"
	"slices"

	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Place is a hint of the device where a value is meant to be used. The Scope stores all values on the host,
// the Place is only kept as metadata for the consumers of the values.
type Place int

// HostPlace is the default Place.
const HostPlace Place = 0

// ValuesFileName is the default file name of a Scope stored in a model directory.
const ValuesFileName = "values.bin"

type entry struct {
	value *tensors.Tensor
	place Place
}

// Scope stores the values of variables, indexed by name.
//
// It is not safe for concurrent use.
type Scope struct {
	entries map[string]entry
}

// New returns an empty Scope.
func New() *Scope {
	return &Scope{entries: make(map[string]entry)}
}

// Find returns the value stored for name.
func (s *Scope) Find(name string) (value *tensors.Tensor, found bool) {
	e, found := s.entries[name]
	return e.value, found
}

// Set creates or replaces the value stored for name, with the given placement hint.
func (s *Scope) Set(name string, value *tensors.Tensor, place Place) {
	s.entries[name] = entry{value: value, place: place}
}

// Place returns the placement hint of the value stored for name. It returns HostPlace if name is not set.
func (s *Scope) Place(name string) Place {
	return s.entries[name].place
}

// Delete removes the value stored for name, if any.
func (s *Scope) Delete(name string) {
	delete(s.entries, name)
}

// Len returns the number of values stored.
func (s *Scope) Len() int { return len(s.entries) }

// Names returns the sorted names of the stored values.
func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone returns a deep copy of the Scope: all values are cloned.
func (s *Scope) Clone() (*Scope, error) {
	s2 := New()
	for name, e := range s.entries {
		value, err := e.value.Clone()
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning value of %q", name)
		}
		s2.entries[name] = entry{value: value, place: e.place}
	}
	return s2, nil
}

// Save all values to filePath, in sorted name order.
func (s *Scope) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save scope", filePath)
	}
	enc := gob.NewEncoder(f)
	names := s.Names()
	err = enc.Encode(len(names))
	for _, name := range names {
		if err != nil {
			break
		}
		if err = enc.Encode(name); err != nil {
			break
		}
		err = s.entries[name].value.GobSerialize(enc)
		if err != nil {
			err = errors.WithMessagef(err, "saving value of %q", name)
		}
	}
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving scope to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close file %q, where scope was saved", filePath)
	}
	klog.V(1).Infof("saved %d values to %q", len(names), filePath)
	return nil
}

// Load a Scope saved with Scope.Save. All values get the HostPlace.
func Load(filePath string) (*Scope, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load scope", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var numValues int
	if err = dec.Decode(&numValues); err != nil {
		return nil, errors.Wrapf(err, "loading scope from %q", filePath)
	}
	s := New()
	for range numValues {
		var name string
		if err = dec.Decode(&name); err != nil {
			return nil, errors.Wrapf(err, "loading scope from %q", filePath)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading value of %q from %q", name, filePath)
		}
		s.Set(name, value, HostPlace)
	}
	return s, nil
}
