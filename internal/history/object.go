package history

import (
	"context"

	"github.com/runger/xt/internal/proxy"
)

// Object exposes the store to the backend under the "history" root:
// get(cmd), update(cmd, value) and clear(cmd).
func (s *Store) Object() proxy.Object {
	return proxy.Members{
		"get": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			cmd, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return s.Get(cmd), nil
		}),
		"update": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			cmd, err := args.String(0)
			if err != nil {
				return nil, err
			}
			value, err := args.String(1)
			if err != nil {
				return nil, err
			}
			return nil, s.Update(cmd, value)
		}),
		"clear": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			cmd, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.Clear(cmd)
		}),
		"limit": proxy.Value(s.limit),
	}
}
