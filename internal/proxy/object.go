package proxy

import (
	"context"
	"encoding/json"
	"fmt"
)

// Getter reads a property value.
type Getter func(ctx context.Context) (any, error)

// Method invokes a member with already-resolved arguments.
type Method func(ctx context.Context, args Args) (any, error)

// Member is one named entry of an Object. A member with only Call set reads
// as undefined (nil); a member with only Get set is not callable.
type Member struct {
	Get  Getter
	Call Method
}

// Func returns a callable member.
func Func(m Method) Member { return Member{Call: m} }

// Prop returns a readable member.
func Prop(g Getter) Member { return Member{Get: g} }

// Value returns a readable member with a fixed value.
func Value(v any) Member {
	return Member{Get: func(context.Context) (any, error) { return v, nil }}
}

// Object is a capability exposed to the remote peer.
type Object interface {
	Member(name string) (Member, bool)
}

// Members is a static Object.
type Members map[string]Member

// Member implements Object.
func (m Members) Member(name string) (Member, bool) {
	member, ok := m[name]
	return member, ok
}

// Args are the JSON-encoded call arguments.
type Args []json.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Has reports whether argument i is present and not null.
func (a Args) Has(i int) bool {
	return i < len(a) && string(a[i]) != "null" && len(a[i]) > 0
}

// Decode unmarshals argument i into dst.
func (a Args) Decode(i int, dst any) error {
	if i >= len(a) {
		return fmt.Errorf("missing argument %d", i)
	}
	if err := json.Unmarshal(a[i], dst); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// Optional decodes argument i into dst when present and reports whether it did.
func (a Args) Optional(i int, dst any) (bool, error) {
	if !a.Has(i) {
		return false, nil
	}
	return true, a.Decode(i, dst)
}

// String decodes argument i as a string.
func (a Args) String(i int) (string, error) {
	var s string
	err := a.Decode(i, &s)
	return s, err
}
