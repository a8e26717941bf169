// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package changes

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// Factory builds an empty instance of one change variant for the decoder
// to unmarshal into.
type Factory func() Change

// Registry maps a typeName discriminator to its factory. It is an
// explicit instance passed by injection, populated once at startup;
// after that it is read-mostly and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with every built-in change variant
// registered in deterministic order.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range []Factory{
		func() Change { return &AddAssemblyChange{} },
		func() Change { return &DeleteAssemblyChange{} },
		func() Change { return &AddFeatureChange{} },
		func() Change { return &DeleteFeatureChange{} },
		func() Change { return &LocationStartChange{} },
		func() Change { return &LocationEndChange{} },
		func() Change { return &StrandChange{} },
		func() Change { return &FeatureTypeChange{} },
		func() Change { return &FeatureAttributeChange{} },
	} {
		if err := r.Register(f().TypeName(), f); err != nil {
			// Built-in registration is a startup-time programming
			// error, never a runtime condition.
			panic(err)
		}
	}
	return r
}

// Register adds a factory under the given name. Registering the same
// factory twice is a no-op; registering a different factory under an
// existing name is a configuration error and fails.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("change type name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("change type %s: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.factories[name]; ok {
		if reflect.ValueOf(existing).Pointer() == reflect.ValueOf(f).Pointer() {
			return nil
		}
		return fmt.Errorf("change type %s registered twice with different factories", name)
	}
	r.factories[name] = f
	return nil
}

// Decode deserializes a wire payload into its concrete variant by the
// "typeName" discriminator. This is the single polymorphic dispatch point;
// nothing else in the system switches on typeName.
func (r *Registry) Decode(raw datatypes.SerializedChange) (Change, error) {
	var envelope struct {
		TypeName string `json:"typeName"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed change payload: %w", err)
	}
	if envelope.TypeName == "" {
		return nil, fmt.Errorf("change payload missing typeName: %w", datatypes.ErrUnknownChangeType)
	}

	r.mu.RLock()
	factory, ok := r.factories[envelope.TypeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", envelope.TypeName, datatypes.ErrUnknownChangeType)
	}

	c := factory()
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.TypeName, err)
	}
	return c, nil
}

// TypeNames returns the registered discriminators, sorted.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
