package editor

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/runger/xt/internal/proxy"
)

// Editor exposes the active surface. When there is no active surface every
// operation is a no-op.
type Editor struct {
	active func() Surface
}

// New creates an editor over the active-surface lookup.
func New(active func() Surface) *Editor {
	if active == nil {
		active = func() Surface { return nil }
	}
	return &Editor{active: active}
}

// Static returns an editor whose active surface is always s.
func Static(s Surface) *Editor {
	return New(func() Surface { return s })
}

func (e *Editor) surface() Surface {
	return e.active()
}

// Selection returns the primary selection.
func (e *Editor) Selection() (Range, bool) {
	s := e.surface()
	if s == nil {
		return Range{}, false
	}
	sels := s.Selections()
	if len(sels) == 0 {
		return Range{}, false
	}
	return sels[0], true
}

// SetSelection replaces all selections with r.
func (e *Editor) SetSelection(r Range) bool {
	s := e.surface()
	if s == nil {
		return false
	}
	s.SetSelections([]Range{r})
	return true
}

// Selections returns all selections.
func (e *Editor) Selections() ([]Range, bool) {
	s := e.surface()
	if s == nil {
		return nil, false
	}
	return s.Selections(), true
}

// SetSelections replaces all selections.
func (e *Editor) SetSelections(rs []Range) bool {
	s := e.surface()
	if s == nil {
		return false
	}
	s.SetSelections(rs)
	return true
}

// Text returns the text in r, or the whole document when r is nil.
func (e *Editor) Text(r *Range) (string, bool) {
	s := e.surface()
	if s == nil {
		return "", false
	}
	return slice(s.Text(), r), true
}

// Texts returns the text of each range.
func (e *Editor) Texts(rs []Range) ([]string, bool) {
	s := e.surface()
	if s == nil {
		return nil, false
	}
	text := s.Text()
	out := make([]string, len(rs))
	for i := range rs {
		out[i] = slice(text, &rs[i])
	}
	return out, true
}

// SetText replaces r (the whole document when nil) with text. Afterwards the
// selection wraps the inserted text when selectText is set, otherwise the
// cursor sits at its end. A reversed r yields a reversed selection.
func (e *Editor) SetText(text string, r *Range, selectText bool) (bool, error) {
	s := e.surface()
	if s == nil {
		return false, nil
	}
	target := wholeRange(s.Text())
	if r != nil {
		target = *r
	}
	start, end := target.Start(), target.End()
	if err := s.Replace([]Replacement{{Start: start, End: end, Text: text}}); err != nil {
		return true, err
	}
	s.SetSelections([]Range{resultRange(target, start, text, selectText)})
	return true, nil
}

// SetTexts replaces each range with the matching text as one edit and
// selects every inserted text.
func (e *Editor) SetTexts(texts []string, rs []Range) (bool, error) {
	s := e.surface()
	if s == nil {
		return false, nil
	}
	if len(texts) != len(rs) {
		return true, fmt.Errorf("got %d texts for %d ranges", len(texts), len(rs))
	}
	edits := make([]Replacement, len(rs))
	for i, r := range rs {
		edits[i] = Replacement{Start: r.Start(), End: r.End(), Text: texts[i]}
	}
	if err := s.Replace(edits); err != nil {
		return true, err
	}

	order := make([]int, len(rs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rs[order[a]].Start() < rs[order[b]].Start() })

	sels := make([]Range, len(rs))
	shift := 0
	for _, i := range order {
		start := rs[i].Start() + shift
		sels[i] = resultRange(rs[i], start, texts[i], true)
		shift += utf8.RuneCountInString(texts[i]) - (rs[i].End() - rs[i].Start())
	}
	s.SetSelections(sels)
	return true, nil
}

// FilePath returns the path of the active surface.
func (e *Editor) FilePath() (string, bool) {
	s := e.surface()
	if s == nil {
		return "", false
	}
	return s.Path(), true
}

func resultRange(orig Range, start int, text string, selectText bool) Range {
	end := start + utf8.RuneCountInString(text)
	if !selectText {
		return Range{end, end}
	}
	if orig.Reversed() {
		return Range{end, start}
	}
	return Range{start, end}
}

func wholeRange(text string) Range {
	return Range{0, utf8.RuneCountInString(text)}
}

func slice(text string, r *Range) string {
	if r == nil {
		return text
	}
	runes := []rune(text)
	start := clampTo(r.Start(), len(runes))
	end := clampTo(r.End(), len(runes))
	return string(runes[start:end])
}

func clampTo(off, n int) int {
	if off < 0 {
		return 0
	}
	if off > n {
		return n
	}
	return off
}

// Object exposes the editor to the remote proxy. Every member returns nil
// when there is no active surface.
func (e *Editor) Object() proxy.Object {
	getSelection := proxy.Func(func(context.Context, proxy.Args) (any, error) {
		if r, ok := e.Selection(); ok {
			return r, nil
		}
		return nil, nil
	})
	return proxy.Members{
		"file_path": proxy.Prop(func(context.Context) (any, error) {
			if p, ok := e.FilePath(); ok && p != "" {
				return p, nil
			}
			return nil, nil
		}),
		"get_selection": getSelection,
		"selection":     getSelection,
		"set_selection": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			var r Range
			if err := args.Decode(0, &r); err != nil {
				return nil, err
			}
			return orNil(e.SetSelection(r)), nil
		}),
		"get_selections": proxy.Func(func(context.Context, proxy.Args) (any, error) {
			if rs, ok := e.Selections(); ok {
				return rs, nil
			}
			return nil, nil
		}),
		"set_selections": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			var rs []Range
			if err := args.Decode(0, &rs); err != nil {
				return nil, err
			}
			return orNil(e.SetSelections(rs)), nil
		}),
		"get_text": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			r, err := optionalRange(args, 0)
			if err != nil {
				return nil, err
			}
			if text, ok := e.Text(r); ok {
				return text, nil
			}
			return nil, nil
		}),
		"get_texts": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			var rs []Range
			if err := args.Decode(0, &rs); err != nil {
				return nil, err
			}
			if texts, ok := e.Texts(rs); ok {
				return texts, nil
			}
			return nil, nil
		}),
		"set_text": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			text, err := args.String(0)
			if err != nil {
				return nil, err
			}
			r, err := optionalRange(args, 1)
			if err != nil {
				return nil, err
			}
			selectText := true
			if _, err := args.Optional(2, &selectText); err != nil {
				return nil, err
			}
			ok, err := e.SetText(text, r, selectText)
			if err != nil {
				return nil, err
			}
			return orNil(ok), nil
		}),
		"set_texts": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			var texts []string
			if err := args.Decode(0, &texts); err != nil {
				return nil, err
			}
			var rs []Range
			if err := args.Decode(1, &rs); err != nil {
				return nil, err
			}
			ok, err := e.SetTexts(texts, rs)
			if err != nil {
				return nil, err
			}
			return orNil(ok), nil
		}),
	}
}

func optionalRange(args proxy.Args, i int) (*Range, error) {
	var r Range
	ok, err := args.Optional(i, &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// orNil maps "done" to true and "no surface" to undefined.
func orNil(ok bool) any {
	if ok {
		return true
	}
	return nil
}
