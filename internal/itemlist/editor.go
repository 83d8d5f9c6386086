// Package itemlist manages a homogeneous list of editable items with
// single-selection-for-editing semantics. It backs the filter panels where
// a phenotype holds one or more filter clauses of the same shape.
package itemlist

import "github.com/sirupsen/logrus"

// none marks the absence of a selection.
const none = -1

// Editor holds the item list and the index of the item currently open for
// editing. Every mutating operation invokes the onChange callback
// synchronously with the full list after internal state is updated; that
// callback is the only externally observable side effect.
type Editor[T any] struct {
	items    []T
	selected int
	newItem  func() T
	onChange func([]T)
	log      *logrus.Logger
}

// New normalizes the initial value into a list and auto-selects index 0 as
// the active edit target when the list has exactly one element. Callers with
// a nil or single-item source pass the normalized slice; the zero-length and
// multi-item cases start with no selection.
func New[T any](initial []T, newItem func() T, onChange func([]T), log *logrus.Logger) *Editor[T] {
	e := &Editor[T]{
		items:    append([]T(nil), initial...),
		selected: none,
		newItem:  newItem,
		onChange: onChange,
		log:      log,
	}
	if len(e.items) == 1 {
		e.selected = 0
	}
	return e
}

// Items returns the current list.
func (e *Editor[T]) Items() []T {
	return e.items
}

// Selected returns the active edit target, its index, and whether a
// selection exists.
func (e *Editor[T]) Selected() (T, int, bool) {
	if e.selected == none {
		var zero T
		return zero, none, false
	}
	return e.items[e.selected], e.selected, true
}

// Add appends a freshly constructed item and selects it for editing.
func (e *Editor[T]) Add() T {
	item := e.newItem()
	e.items = append(e.items, item)
	e.selected = len(e.items) - 1
	e.notify()
	return item
}

// Select sets the active edit target. Out-of-range indexes clear the
// selection. Callers with multi-item lists must always pass the index
// explicitly; 0 is only correct for single-item lists.
func (e *Editor[T]) Select(index int) {
	if index < 0 || index >= len(e.items) {
		e.selected = none
		return
	}
	e.selected = index
}

// Update replaces the item at the currently selected index. With no
// selection the call is a no-op with a warning rather than an error.
func (e *Editor[T]) Update(item T) {
	if e.selected == none {
		if e.log != nil {
			e.log.Warn("item editor update with no selected item")
		}
		return
	}
	e.items[e.selected] = item
	e.notify()
}

// Delete removes the item at index, reindexing the remainder. Deleting the
// selected item clears the selection; deleting an earlier item shifts it.
func (e *Editor[T]) Delete(index int) {
	if index < 0 || index >= len(e.items) {
		return
	}
	e.items = append(e.items[:index], e.items[index+1:]...)
	switch {
	case e.selected == index:
		e.selected = none
	case e.selected > index:
		e.selected--
	}
	e.notify()
}

// Close clears the selection without touching the list.
func (e *Editor[T]) Close() {
	e.selected = none
}

func (e *Editor[T]) notify() {
	if e.onChange != nil {
		e.onChange(e.items)
	}
}
