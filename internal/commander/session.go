package commander

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/runger/xt/internal/picker"
)

// state is the session's position in the command loop.
type state int

const (
	stateIdle state = iota
	stateAwaitingInput
	stateDispatching
	stateDone
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingInput:
		return "awaiting-input"
	case stateDispatching:
		return "dispatching"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// eventKind identifies a session input.
type eventKind int

const (
	evValueChanged eventKind = iota + 1
	evActiveChanged
	evAccepted
	evHidden
	evCompletionsArrived
	evDebounceFired
	evDispatchDone
)

// event is anything the session reacts to: picker events and completions of
// its own async work.
type event struct {
	kind  eventKind
	value string
	items []picker.Item

	seq    uint64
	text   string
	resp   *CompletionResponse
	result *DispatchResult
	err    error
}

// effect is async work the transition asks the run loop to start.
type effect struct {
	// schedule (re)arms the debounce timer.
	schedule bool
	// cancelDebounce drops a pending debounce.
	cancelDebounce bool
	// fetch requests completions for text now.
	fetch bool
	text  string
	// dispatch executes command.
	dispatch bool
	command  string
	// cancelDispatch abandons an in-flight dispatch.
	cancelDispatch bool
}

// outcome is how a round ended.
type outcome struct {
	cancelled bool
	path      string
	command   string
	value     string
	result    *DispatchResult
	err       error
}

// session is one completion round over one picker.
type session struct {
	c      *Commander
	p      picker.Picker
	logger *slog.Logger

	state  state
	prefix string
	value  string

	// completions is the applied response; completionsText is the full text
	// it was requested for.
	completions     *CompletionResponse
	completionsText string

	historySelection bool
	typedPrefix      string
	typedValue       string

	debounceSeq uint64
	fetchSeq    uint64

	out outcome

	// Owned by run.
	internal      chan event
	closed        chan struct{}
	timer         *time.Timer
	cancelFetch   context.CancelFunc
	cancelCommand context.CancelFunc
}

func newSession(c *Commander, p picker.Picker, logger *slog.Logger, prefix, value string) *session {
	return &session{
		c:        c,
		p:        p,
		logger:   logger,
		prefix:   prefix,
		value:    value,
		internal: make(chan event, 16),
		closed:   make(chan struct{}),
	}
}

func (s *session) full() string {
	return s.prefix + s.value
}

// run drives the session until it reaches stateDone.
func (s *session) run(ctx context.Context, supplied *CompletionResponse) outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(s.closed)
		s.stopTimer()
		cancel()
	}()

	s.apply(ctx, s.start(supplied))
	for s.state != stateDone {
		select {
		case <-ctx.Done():
			return outcome{err: ctx.Err()}
		case pev, ok := <-s.p.Events():
			if !ok {
				pev = picker.Event{Kind: picker.Hidden}
			}
			s.apply(ctx, s.handle(fromPicker(pev)))
		case ev := <-s.internal:
			s.apply(ctx, s.handle(ev))
		}
	}
	return s.out
}

func fromPicker(ev picker.Event) event {
	out := event{value: ev.Value, items: ev.Items}
	switch ev.Kind {
	case picker.ValueChanged:
		out.kind = evValueChanged
	case picker.ActiveChanged:
		out.kind = evActiveChanged
	case picker.Accepted:
		out.kind = evAccepted
	case picker.Hidden:
		out.kind = evHidden
	}
	return out
}

// start configures the picker and enters stateAwaitingInput.
func (s *session) start(supplied *CompletionResponse) effect {
	placeholder := strings.TrimSpace(s.prefix)
	if placeholder == "" {
		placeholder = s.c.placeholder
	}
	s.p.SetPlaceholder(placeholder)
	s.p.SetSortByLabel(false)
	s.p.SetIgnoreFocusOut(true)
	s.p.SetValue(s.value)
	s.state = stateAwaitingInput

	var eff effect
	if supplied != nil {
		s.setCompletions(s.full(), supplied)
	} else {
		eff = effect{fetch: true, text: s.full()}
	}
	s.p.Show()
	return eff
}

// handle is the transition function.
func (s *session) handle(ev event) effect {
	switch s.state {
	case stateAwaitingInput:
		return s.handleInput(ev)
	case stateDispatching:
		return s.handleDispatching(ev)
	}
	return effect{}
}

func (s *session) handleInput(ev event) effect {
	switch ev.kind {
	case evValueChanged:
		if s.historySelection {
			if ev.value == s.value {
				return effect{}
			}
			s.historySelection = false
		}
		s.value = ev.value
		return s.updateCompletions()

	case evActiveChanged:
		s.activate(ev.items)
		return effect{}

	case evAccepted:
		return s.accept(ev)

	case evHidden:
		s.finish(outcome{cancelled: true})
		return effect{cancelDebounce: true}

	case evDebounceFired:
		if ev.seq != s.debounceSeq {
			return effect{}
		}
		return effect{fetch: true, text: s.full()}

	case evCompletionsArrived:
		s.completionsArrived(ev)
	}
	return effect{}
}

func (s *session) handleDispatching(ev event) effect {
	switch ev.kind {
	case evHidden:
		s.finish(outcome{cancelled: true})
		return effect{cancelDispatch: true}
	case evDispatchDone:
		if ev.err != nil {
			s.finish(outcome{err: ev.err})
		} else {
			s.finish(outcome{command: ev.text, value: s.value, result: ev.result})
		}
	}
	return effect{}
}

func (s *session) finish(out outcome) {
	s.state = stateDone
	s.out = out
}

// updateCompletions reacts to an edit: the cached response is filtered in
// place while it still covers the text, and a debounced fetch is scheduled
// unless the local result is conclusive.
func (s *session) updateCompletions() effect {
	full := s.full()
	if s.completions != nil && strings.HasPrefix(full, s.completionsText) {
		matching, conclusive := s.match(full)
		if len(matching) > 0 {
			s.showItems(matching)
			if conclusive {
				return effect{cancelDebounce: true}
			}
		}
	}
	return effect{schedule: true}
}

// match returns the cached items whose label starts with the text typed
// from the item's offset. The result is conclusive when more than one item
// matches or some label extends past its typed term.
func (s *session) match(full string) ([]Item, bool) {
	var matching []Item
	conclusive := false
	for _, it := range s.completions.Items {
		term := fromRune(full, s.completions.offsetOf(it))
		if !strings.HasPrefix(it.Label, term) {
			continue
		}
		matching = append(matching, it)
		if utf8.RuneCountInString(it.Label) > utf8.RuneCountInString(term) {
			conclusive = true
		}
	}
	if len(matching) > 1 {
		conclusive = true
	}
	return matching, conclusive
}

// activate swaps the value while the cursor rests on a history item and
// restores the typed value when it moves off.
func (s *session) activate(items []picker.Item) {
	it, ok := itemOf(items)
	if ok && it.IsHistory {
		if !s.historySelection {
			s.typedPrefix, s.typedValue = s.prefix, s.value
			s.historySelection = true
		}
		s.prefix, s.value = splitPrefix(s.prefix, it.Label)
		s.p.SetValue(s.value)
		return
	}
	if s.historySelection {
		s.historySelection = false
		s.prefix, s.value = s.typedPrefix, s.typedValue
		s.p.SetValue(s.value)
	}
}

// accept turns the committed selection into the next step.
func (s *session) accept(ev event) effect {
	s.value = ev.value
	command := s.full()

	if it, ok := itemOf(ev.items); ok {
		if it.Filepath != "" {
			s.finish(outcome{path: it.Filepath})
			return effect{cancelDebounce: true}
		}
		if s.completions != nil {
			off := s.completions.offsetOf(it)
			if off >= 0 && off <= utf8.RuneCountInString(command) {
				command = toRune(command, off) + it.Label
			}
		}
		if it.IsCompletion {
			s.historySelection = false
			s.prefix, s.value = splitPrefix(s.prefix, command)
			s.p.SetValue(s.value)
			return effect{cancelDebounce: true, fetch: true, text: command}
		}
	}

	s.state = stateDispatching
	s.p.SetBusy(true)
	return effect{cancelDebounce: true, dispatch: true, command: command}
}

// completionsArrived applies the newest fetch if the text it was requested
// for still leads the current text.
func (s *session) completionsArrived(ev event) {
	if ev.seq != s.fetchSeq {
		return
	}
	s.p.SetBusy(false)
	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		s.finish(outcome{err: ev.err})
		return
	}
	full := s.full()
	if !strings.HasPrefix(full, ev.text) {
		s.logger.Debug("dropping stale completions", "for", ev.text, "current", full)
		return
	}
	s.setCompletions(ev.text, ev.resp)
	if full != ev.text {
		if matching, _ := s.match(full); len(matching) > 0 {
			s.showItems(matching)
		}
	}
}

// setCompletions caches resp for text, adds matching history, and shows
// every item in order.
func (s *session) setCompletions(text string, resp *CompletionResponse) {
	applied := *resp
	applied.Items = s.withHistory(text, resp)
	s.completions = &applied
	s.completionsText = text
	s.showItems(applied.Items)
}

// withHistory prepends remembered commands that extend the typed remainder.
func (s *session) withHistory(text string, resp *CompletionResponse) []Item {
	items := resp.Items
	if s.c.history == nil {
		return items
	}
	key, rest, ok := strings.Cut(text, " ")
	if !ok || strings.TrimSpace(key) == "" {
		return items
	}

	present := make(map[string]bool, len(items))
	for _, it := range items {
		off := resp.offsetOf(it)
		if off >= 0 && off <= utf8.RuneCountInString(text) {
			present[toRune(text, off)+it.Label] = true
		}
	}

	var out []Item
	zero := 0
	for _, entry := range s.c.history.Get(key) {
		if !strings.HasPrefix(entry, rest) {
			continue
		}
		label := key + " " + entry
		if present[label] {
			continue
		}
		out = append(out, Item{Label: label, Offset: &zero, IsHistory: true})
	}
	if len(out) == 0 {
		return items
	}
	return append(out, items...)
}

func (s *session) showItems(items []Item) {
	s.p.SetItems(toPickerItems(items, true))
}

// apply starts the async work described by eff.
func (s *session) apply(ctx context.Context, eff effect) {
	if eff.cancelDebounce || eff.schedule || eff.fetch {
		s.stopTimer()
	}
	if eff.schedule {
		s.debounceSeq++
		seq := s.debounceSeq
		s.timer = time.AfterFunc(s.c.debounce, func() {
			s.post(event{kind: evDebounceFired, seq: seq})
		})
	}
	if eff.fetch {
		s.fetch(ctx, eff.text)
	}
	if eff.dispatch {
		s.execute(ctx, eff.command)
	}
	if eff.cancelDispatch && s.cancelCommand != nil {
		s.cancelCommand()
	}
}

func (s *session) fetch(ctx context.Context, text string) {
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.fetchSeq++
	seq := s.fetchSeq
	fctx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.p.SetBusy(true)
	s.logger.Debug("fetching completions", "seq", seq, "text", text)

	go func() {
		resp, err := s.c.getCompletions(fctx, text)
		s.post(event{kind: evCompletionsArrived, seq: seq, text: text, resp: resp, err: err})
	}()
}

func (s *session) execute(ctx context.Context, command string) {
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	// Responses to fetches issued before dispatch no longer apply.
	s.fetchSeq++
	dctx, cancel := context.WithCancel(ctx)
	s.cancelCommand = cancel
	s.logger.Debug("executing command", "command", command)

	go func() {
		res, err := s.c.doCommand(dctx, command)
		s.post(event{kind: evDispatchDone, text: command, result: res, err: err})
	}()
}

func (s *session) post(ev event) {
	select {
	case s.internal <- ev:
	case <-s.closed:
	}
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func toPickerItems(items []Item, alwaysShow bool) []picker.Item {
	out := make([]picker.Item, len(items))
	for i, it := range items {
		out[i] = picker.Item{
			Label:       it.Label,
			Description: it.Description,
			Detail:      it.Detail,
			AlwaysShow:  alwaysShow,
			Data:        it,
		}
	}
	return out
}

// itemOf returns the backend item behind the first picker item.
func itemOf(items []picker.Item) (Item, bool) {
	if len(items) == 0 {
		return Item{}, false
	}
	it, ok := items[0].Data.(Item)
	return it, ok
}

// toRune returns s up to rune offset n.
func toRune(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// fromRune returns s from rune offset n, clamped to the text.
func fromRune(s string, n int) string {
	return s[len(toRune(s, n)):]
}
