package domain

import "strings"

// EntityDescriptor describes one entity type (object/table) exposed by a remote source.
// Descriptors are produced fresh on every poll from schema discovery and never persisted.
type EntityDescriptor struct {
	Name       string `json:"name"`
	Queryable  bool   `json:"queryable"`
	Replicable bool   `json:"replicable"`
	Updatable  bool   `json:"updatable"`
}

// Pollable reports whether the entity type supports incremental polling.
// All three capability flags are required.
func (e EntityDescriptor) Pollable() bool {
	return e.Queryable && e.Replicable && e.Updatable
}

// Key returns the normalised entity type name used for watermark keys and event names.
func (e EntityDescriptor) Key() string {
	return EntityKey(e.Name)
}

// EntityKey lowercases an entity type name.
func EntityKey(name string) string {
	return strings.ToLower(name)
}

// FilterPollable returns only the pollable descriptors, preserving order.
func FilterPollable(descriptors []EntityDescriptor) []EntityDescriptor {
	pollable := make([]EntityDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Pollable() {
			pollable = append(pollable, d)
		}
	}
	return pollable
}
