// Package proxy lets a remote peer read properties and invoke methods on a
// closed namespace of local capability objects.
//
// A request is an expression tree:
//
//	{"root": "editor", "name": "get_text", "args": [{"root": "editor", "name": "get_selection", "args": [], "__resolve__": true}]}
//
// Each node reads Name off the current receiver, calls it when Args is
// present (resolving nested "__resolve__" arguments first) and continues
// with Next using the result as the new receiver.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// resolveMarker flags an argument that is itself an expression.
const resolveMarker = "__resolve__"

// Name is a member name or an integer index.
type Name struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a string member name.
func Key(s string) Name { return Name{Key: s} }

// Index returns an integer index name.
func Index(i int) Name { return Name{Index: i, IsIndex: true} }

// UnmarshalJSON accepts a JSON string or number.
func (n *Name) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Key(s)
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("name must be a string or integer: %s", data)
	}
	*n = Index(i)
	return nil
}

// MarshalJSON encodes the name as a string or number.
func (n Name) MarshalJSON() ([]byte, error) {
	if n.IsIndex {
		return json.Marshal(n.Index)
	}
	return json.Marshal(n.Key)
}

func (n Name) String() string {
	if n.IsIndex {
		return "[" + strconv.Itoa(n.Index) + "]"
	}
	return n.Key
}

// Expr is one node of a resolve request.
// A nil Args reads the member; a non-nil (possibly empty) Args calls it.
type Expr struct {
	Root    string            `json:"root,omitempty"`
	Name    Name              `json:"name"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Next    *Expr             `json:"next,omitempty"`
	Resolve bool              `json:"__resolve__,omitempty"`
}

// IsCall reports whether the node invokes its member.
func (e *Expr) IsCall() bool {
	return e.Args != nil
}

// String renders the expression path, e.g. "editor.get_text(...)".
func (e *Expr) String() string {
	var b strings.Builder
	b.WriteString(e.Root)
	for node := e; node != nil; node = node.Next {
		if node.Name.IsIndex {
			b.WriteString(node.Name.String())
		} else {
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(node.Name.Key)
		}
		if node.IsCall() {
			b.WriteString("(")
			if len(node.Args) > 0 {
				b.WriteString("...")
			}
			b.WriteString(")")
		}
	}
	return b.String()
}

// nestedExpr decodes raw as an expression when it carries the resolve marker.
func nestedExpr(raw json.RawMessage) (*Expr, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false, nil
	}
	flag, ok := fields[resolveMarker]
	if !ok || string(bytes.TrimSpace(flag)) != "true" {
		return nil, false, nil
	}
	var e Expr
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, true, fmt.Errorf("invalid nested expression: %w", err)
	}
	return &e, true, nil
}
