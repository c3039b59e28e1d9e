package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrorTag is the first element of an error marker.
const ErrorTag = "__error__"

// ErrNotFound is returned for an unknown root object.
var ErrNotFound = errors.New("object not found")

// Namespace is the closed set of objects a peer may address by root name.
type Namespace struct {
	objects map[string]Object
	logger  *slog.Logger
}

// NewNamespace creates a namespace over objects. The map is copied.
func NewNamespace(objects map[string]Object, logger *slog.Logger) *Namespace {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Namespace{
		objects: make(map[string]Object, len(objects)),
		logger:  logger,
	}
	for name, obj := range objects {
		n.objects[name] = obj
	}
	return n
}

// Roots returns the registered root names.
func (n *Namespace) Roots() []string {
	roots := make([]string, 0, len(n.objects))
	for name := range n.objects {
		roots = append(roots, name)
	}
	return roots
}

// Resolve evaluates e against the namespace. Steps run strictly in order:
// nested arguments, then the call, then Next.
func (n *Namespace) Resolve(ctx context.Context, e Expr) (any, error) {
	root, ok := n.objects[e.Root]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, e.Root)
	}
	return n.get(ctx, root, &e, &e)
}

func (n *Namespace) get(ctx context.Context, recv any, e, top *Expr) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value any
	member, found := lookup(recv, e.Name)
	if e.IsCall() {
		if !found || member.Call == nil {
			n.logger.Error("not callable", "expr", top.String(), "name", e.Name.String())
			return nil, nil
		}
		args, err := n.resolveArgs(ctx, e.Args)
		if err != nil {
			return nil, err
		}
		value, err = member.Call(ctx, args)
		if err != nil {
			return nil, err
		}
	} else if found && member.Get != nil {
		var err error
		value, err = member.Get(ctx)
		if err != nil {
			return nil, err
		}
	}

	if value == nil || e.Next == nil {
		return value, nil
	}
	return n.get(ctx, value, e.Next, top)
}

func (n *Namespace) resolveArgs(ctx context.Context, raw []json.RawMessage) (Args, error) {
	args := make(Args, len(raw))
	for i, arg := range raw {
		sub, nested, err := nestedExpr(arg)
		if err != nil {
			return nil, err
		}
		if !nested {
			args[i] = arg
			continue
		}
		value, err := n.Resolve(ctx, *sub)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		args[i] = encoded
	}
	return args, nil
}

// lookup reads name off recv. Objects and JSON-shaped containers are read
// directly; any other value is traversed through its JSON encoding.
func lookup(recv any, name Name) (Member, bool) {
	switch r := recv.(type) {
	case Object:
		if name.IsIndex {
			return Member{}, false
		}
		return r.Member(name.Key)
	case map[string]any:
		if name.IsIndex {
			return Member{}, false
		}
		v, ok := r[name.Key]
		return Value(v), ok
	case []any:
		if !name.IsIndex || name.Index < 0 || name.Index >= len(r) {
			return Member{}, false
		}
		return Value(r[name.Index]), true
	case []string:
		if !name.IsIndex || name.Index < 0 || name.Index >= len(r) {
			return Member{}, false
		}
		return Value(r[name.Index]), true
	case nil, string, bool, float64, json.Number:
		return Member{}, false
	}
	if plain, ok := normalize(recv); ok {
		return lookup(plain, name)
	}
	return Member{}, false
}

// normalize re-decodes a typed value (struct, typed slice, array or map) into
// its JSON shape. Only container results are reported.
func normalize(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, false
	}
	switch plain.(type) {
	case map[string]any, []any:
		return plain, true
	}
	return nil, false
}

// Handle serves one resolve request. params is either the expression object
// or a one-element array holding it. Failures are returned as an error
// marker so they cross the RPC boundary as data.
func (n *Namespace) Handle(ctx context.Context, params json.RawMessage) (result any) {
	var e Expr
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			n.logger.Error("resolve panic", "expr", e.String(), "panic", msg)
			result = ErrorMarker(msg, string(debug.Stack()))
		}
	}()

	if err := decodeParams(params, &e); err != nil {
		n.logger.Error("invalid resolve request", "error", err)
		return ErrorMarker(err.Error(), err.Error())
	}

	value, err := n.Resolve(ctx, e)
	if err != nil {
		n.logger.Error("resolve failed", "expr", e.String(), "error", err)
		return ErrorMarker(err.Error(), fmt.Sprintf("resolve %s: %v", e.String(), err))
	}
	return value
}

func decodeParams(params json.RawMessage, e *Expr) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Expr
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("invalid resolve params: %w", err)
		}
		if len(list) != 1 {
			return fmt.Errorf("invalid resolve params: expected 1 expression, got %d", len(list))
		}
		*e = list[0]
		return nil
	}
	if err := json.Unmarshal(trimmed, e); err != nil {
		return fmt.Errorf("invalid resolve params: %w", err)
	}
	return nil
}

// ErrorMarker builds the ["__error__", message, stack] triple.
func ErrorMarker(message, stack string) []any {
	return []any{ErrorTag, message, stack}
}

// IsError recognises an error marker in a decoded value.
func IsError(v any) (message, stack string, ok bool) {
	list, isList := v.([]any)
	if !isList || len(list) != 3 {
		return "", "", false
	}
	if tag, _ := list[0].(string); tag != ErrorTag {
		return "", "", false
	}
	message, _ = list[1].(string)
	stack, _ = list[2].(string)
	return message, stack, true
}
