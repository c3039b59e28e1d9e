// Package picker defines the interactive list-with-input capability used by
// the command loop, and a terminal implementation of it.
package picker

import (
	"sort"
	"strings"
)

// Item is one row of a picker.
type Item struct {
	Label       string
	Description string
	Detail      string

	// AlwaysShow keeps the item visible regardless of the typed value.
	AlwaysShow bool

	// Data carries the caller's own representation of the row.
	Data any
}

// EventKind identifies a picker event.
type EventKind int

const (
	// ValueChanged fires when the user edits the value. Programmatic
	// SetValue never fires it.
	ValueChanged EventKind = iota + 1

	// ActiveChanged fires when the user moves the cursor to another item.
	// Replacing the item list does not fire it.
	ActiveChanged

	// Accepted fires when the user commits. Items holds the selection,
	// empty when nothing was highlighted.
	Accepted

	// Hidden fires once, when the picker goes away for any reason.
	Hidden
)

func (k EventKind) String() string {
	switch k {
	case ValueChanged:
		return "value-changed"
	case ActiveChanged:
		return "active-changed"
	case Accepted:
		return "accepted"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// Event is delivered on Picker.Events.
type Event struct {
	Kind  EventKind
	Value string
	Items []Item
}

// Picker is an input line over a list of items.
type Picker interface {
	SetPlaceholder(string)
	SetValue(string)
	SetItems([]Item)
	SetBusy(bool)
	SetIgnoreFocusOut(bool)
	SetMatchOnDescription(bool)
	SetMatchOnDetail(bool)
	SetSortByLabel(bool)

	Value() string
	Items() []Item
	ActiveItems() []Item
	SelectedItems() []Item

	Show()
	Hide()
	Dispose()

	Events() <-chan Event
}

// Factory creates a fresh picker.
type Factory func() Picker

// Filter returns the items to display for query. Items marked AlwaysShow are
// kept; others must contain every whitespace-separated word of query,
// case-insensitively, in the label or in the enabled secondary fields.
func Filter(items []Item, query string, matchDescription, matchDetail bool) []Item {
	words := strings.Fields(strings.ToLower(query))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.AlwaysShow || len(words) == 0 || matches(it, words, matchDescription, matchDetail) {
			out = append(out, it)
		}
	}
	return out
}

func matches(it Item, words []string, matchDescription, matchDetail bool) bool {
	hay := strings.ToLower(it.Label)
	if matchDescription {
		hay += "\x00" + strings.ToLower(it.Description)
	}
	if matchDetail {
		hay += "\x00" + strings.ToLower(it.Detail)
	}
	for _, w := range words {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	return true
}

// sortItems orders items by label, keeping insertion order for ties.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Label) < strings.ToLower(items[j].Label)
	})
}
