// Package multierror collects per-target failures from fan-out
// operations, keyed by whatever identifies the target, so one broken
// receiver never hides what happened to the rest.
package multierror

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Errors accumulates at most one error per key. The zero value is not
// usable; construct with New. Safe for concurrent Add calls.
type Errors[K comparable] struct {
	mut  sync.Mutex
	errs map[K]error
}

func New[K comparable]() *Errors[K] {
	return &Errors[K]{
		errs: make(map[K]error),
	}
}

// Add records err under key, replacing any earlier error for the same key.
func (e *Errors[K]) Add(key K, err error) {
	e.mut.Lock()
	e.errs[key] = err
	e.mut.Unlock()
}

// Len returns the number of recorded errors.
func (e *Errors[K]) Len() int {
	e.mut.Lock()
	defer e.mut.Unlock()

	return len(e.errs)
}

// Error joins the recorded errors into one message, sorted by key so the
// output is stable.
func (e *Errors[K]) Error() string {
	e.mut.Lock()
	defer e.mut.Unlock()

	parts := make([]string, 0, len(e.errs))
	for k, err := range e.errs {
		parts = append(parts, fmt.Sprintf("%v: %s", k, err))
	}

	sort.Strings(parts)

	return strings.Join(parts, "; ")
}

// Unwrap exposes the recorded errors to errors.Is and errors.As.
func (e *Errors[K]) Unwrap() []error {
	e.mut.Lock()
	defer e.mut.Unlock()

	errs := make([]error, 0, len(e.errs))
	for _, err := range e.errs {
		errs = append(errs, err)
	}

	return errs
}

// Combined returns e when anything was recorded and nil otherwise, so a
// fan-out can return it directly.
func (e *Errors[K]) Combined() error {
	e.mut.Lock()
	defer e.mut.Unlock()

	if len(e.errs) == 0 {
		return nil
	}

	return e
}
