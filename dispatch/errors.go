package dispatch

import (
	"fmt"
	"strings"
)

// ItemError records the failure of a single work item.
type ItemError[T any] struct {
	Item T
	Err  error
}

func (e ItemError[T]) Error() string {
	return fmt.Sprintf("item %v: %v", e.Item, e.Err)
}

func (e ItemError[T]) Unwrap() error {
	return e.Err
}

// RunError is returned by Run when one or more items failed. Every other
// item was still processed.
type RunError[T any] struct {
	Failed    []ItemError[T]
	Succeeded int
}

func (e *RunError[T]) Error() string {
	msgs := make([]string, len(e.Failed))
	for idx := range e.Failed {
		msgs[idx] = e.Failed[idx].Error()
	}
	return fmt.Sprintf("dispatch: %d of %d items failed: %s",
		len(e.Failed), len(e.Failed)+e.Succeeded, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual item failures to errors.Is and errors.As.
func (e *RunError[T]) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for idx := range e.Failed {
		errs[idx] = e.Failed[idx]
	}
	return errs
}

// Items returns the items that failed, in completion order.
func (e *RunError[T]) Items() []T {
	items := make([]T, len(e.Failed))
	for idx := range e.Failed {
		items[idx] = e.Failed[idx].Item
	}
	return items
}
