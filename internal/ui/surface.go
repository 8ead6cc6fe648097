// Package ui abstracts the user interface the marketplace actions are bound to.
// Actions register handlers against clicks and form submits; a concrete surface
// (the gin bridge, the CLI) decides how events reach them.
package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Event a click or a form submit
type Event struct {
	Name   string            `json:"name"`             // action or form name
	Target string            `json:"target,omitempty"` // element the click was on, e.g. a tool id
	Values map[string]string `json:"values,omitempty"` // form fields or data attributes
}

// Value returns a field, or "" when absent
func (e Event) Value(key string) string {
	if e.Values == nil {
		return ""
	}
	return e.Values[key]
}

// Handler reacts to an event; the returned value is rendered by the surface
type Handler func(ctx context.Context, ev Event) (interface{}, error)

// Surface capability-abstracted UI toolkit
type Surface interface {
	OnClick(action string, h Handler)
	OnSubmit(form string, h Handler)
}

// ErrUnknownEvent nothing is registered under the name
var ErrUnknownEvent = errors.New("unknown ui event")

// Registry in-memory Surface that dispatches events by name
type Registry struct {
	mu      sync.RWMutex
	clicks  map[string]Handler
	submits map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		clicks:  make(map[string]Handler),
		submits: make(map[string]Handler),
	}
}

func (r *Registry) OnClick(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks[action] = h
}

func (r *Registry) OnSubmit(form string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits[form] = h
}

// Click dispatches a click on action
func (r *Registry) Click(ctx context.Context, action string, ev Event) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.clicks[action]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: click %q", ErrUnknownEvent, action)
	}
	ev.Name = action
	return h(ctx, ev)
}

// Submit dispatches a submit of form
func (r *Registry) Submit(ctx context.Context, form string, ev Event) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.submits[form]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: submit %q", ErrUnknownEvent, form)
	}
	ev.Name = form
	return h(ctx, ev)
}

// Actions registered click actions, sorted
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.clicks)
}

// Forms registered forms, sorted
func (r *Registry) Forms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.submits)
}

func sortedKeys(m map[string]Handler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
