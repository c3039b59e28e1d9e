package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/xt/internal/history"
	"github.com/runger/xt/internal/ipc"
	"github.com/runger/xt/internal/picker"
)

const waitTimeout = 2 * time.Second

// call is one expected backend request and its canned response.
type call struct {
	command  string
	args     []any
	response any
}

// mockCaller answers Exec requests in order and records mismatches.
type mockCaller struct {
	mu       sync.Mutex
	expected []call
	failures []string
}

func (m *mockCaller) WaitReady(context.Context) error { return nil }

func (m *mockCaller) Call(_ context.Context, method string, params, result any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var got struct {
		Command   string `json:"command"`
		Arguments []any  `json:"arguments"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if method != ipc.ExecuteCommandMethod {
		m.failures = append(m.failures, "unexpected method "+method)
		return fmt.Errorf("unexpected method %s", method)
	}
	if len(m.expected) == 0 {
		m.failures = append(m.failures, fmt.Sprintf("unexpected request: %s %v", got.Command, got.Arguments))
		return fmt.Errorf("unexpected request %s", got.Command)
	}
	next := m.expected[0]
	m.expected = m.expected[1:]
	if next.command != got.Command || !assert.ObjectsAreEqual(next.args, got.Arguments) {
		m.failures = append(m.failures, fmt.Sprintf("want %s %v, got %s %v", next.command, next.args, got.Command, got.Arguments))
	}
	raw, err := json.Marshal(next.response)
	if err != nil {
		return err
	}
	*result.(*json.RawMessage) = raw
	return nil
}

func (m *mockCaller) done(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.failures)
	for _, c := range m.expected {
		t.Errorf("backend not called: %s %v", c.command, c.args)
	}
}

// errCaller fails every request.
type errCaller struct{ err error }

func (errCaller) WaitReady(context.Context) error { return nil }

func (e errCaller) Call(context.Context, string, any, any) error { return e.err }

// fakePicker records setter calls. SetItems notifies changes; SetValue after
// Show notifies values.
type fakePicker struct {
	changes chan *fakePicker
	values  chan string
	events  chan picker.Event

	mu           sync.Mutex
	placeholder  string
	value        string
	items        []picker.Item
	busy         bool
	matchDesc    bool
	matchDetail  bool
	sortByLabel  bool
	ignoreFocus  bool
	shown        bool
	disposed     bool
	hideOnce     sync.Once
	setItemCalls int
}

func newFakePicker(changes chan *fakePicker) *fakePicker {
	return &fakePicker{
		changes:     changes,
		values:      make(chan string, 64),
		events:      make(chan picker.Event, 64),
		sortByLabel: true,
	}
}

func (p *fakePicker) SetPlaceholder(s string) {
	p.mu.Lock()
	p.placeholder = s
	p.mu.Unlock()
}

func (p *fakePicker) SetValue(s string) {
	p.mu.Lock()
	p.value = s
	shown := p.shown
	p.mu.Unlock()
	if shown {
		p.values <- s
	}
}

func (p *fakePicker) SetItems(items []picker.Item) {
	p.mu.Lock()
	p.items = append([]picker.Item(nil), items...)
	p.setItemCalls++
	p.mu.Unlock()
	p.changes <- p
}

func (p *fakePicker) SetBusy(b bool) {
	p.mu.Lock()
	p.busy = b
	p.mu.Unlock()
}

func (p *fakePicker) SetIgnoreFocusOut(b bool) {
	p.mu.Lock()
	p.ignoreFocus = b
	p.mu.Unlock()
}

func (p *fakePicker) SetMatchOnDescription(b bool) {
	p.mu.Lock()
	p.matchDesc = b
	p.mu.Unlock()
}

func (p *fakePicker) SetMatchOnDetail(b bool) {
	p.mu.Lock()
	p.matchDetail = b
	p.mu.Unlock()
}

func (p *fakePicker) SetSortByLabel(b bool) {
	p.mu.Lock()
	p.sortByLabel = b
	p.mu.Unlock()
}

func (p *fakePicker) Value() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *fakePicker) Items() []picker.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]picker.Item(nil), p.items...)
}

func (p *fakePicker) ActiveItems() []picker.Item   { return nil }
func (p *fakePicker) SelectedItems() []picker.Item { return nil }

func (p *fakePicker) Show() {
	p.mu.Lock()
	p.shown = true
	p.mu.Unlock()
}

func (p *fakePicker) Hide() {
	p.hideOnce.Do(func() {
		p.events <- picker.Event{Kind: picker.Hidden, Value: p.Value()}
	})
}

func (p *fakePicker) Dispose() {
	p.mu.Lock()
	p.disposed = true
	p.mu.Unlock()
	p.Hide()
}

func (p *fakePicker) Events() <-chan picker.Event { return p.events }

// accept commits item i, or no item when i is negative.
func (p *fakePicker) accept(i int) {
	p.events <- picker.Event{Kind: picker.Accepted, Value: p.Value(), Items: p.pick(i)}
}

// activate moves the cursor onto item i.
func (p *fakePicker) activate(i int) {
	p.events <- picker.Event{Kind: picker.ActiveChanged, Value: p.Value(), Items: p.pick(i)}
}

// edit simulates the user typing value.
func (p *fakePicker) edit(value string) {
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
	p.events <- picker.Event{Kind: picker.ValueChanged, Value: value}
}

func (p *fakePicker) pick(i int) []picker.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.items) {
		return nil
	}
	return []picker.Item{p.items[i]}
}

// texts renders items as "label" or "label/detail".
func (p *fakePicker) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.items))
	for _, it := range p.items {
		s := it.Label
		if it.Detail != "" {
			s += "/" + it.Detail
		}
		out = append(out, s)
	}
	return out
}

func (p *fakePicker) item(i int) Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[i].Data.(Item)
}

func (p *fakePicker) nextValue(t *testing.T) string {
	t.Helper()
	select {
	case v := <-p.values:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for SetValue")
		return ""
	}
}

// fakeWindow records notifications and answers InputBox with answer.
type fakeWindow struct {
	mu        sync.Mutex
	answer    string
	answered  bool
	messages  []string
	warnings  []string
	errors    []string
	clipboard []string
	prompts   []string
}

func (w *fakeWindow) ShowMessage(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
}

func (w *fakeWindow) ShowWarning(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, msg)
}

func (w *fakeWindow) ShowError(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, msg)
}

func (w *fakeWindow) InputBox(_ context.Context, prompt, _ string) (string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prompts = append(w.prompts, prompt)
	return w.answer, w.answered, nil
}

func (w *fakeWindow) WriteClipboard(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clipboard = append(w.clipboard, text)
	return nil
}

// testEnv wires a Commander to fakes.
type testEnv struct {
	t       *testing.T
	changes chan *fakePicker
	caller  *mockCaller
	history *history.Store
	window  *fakeWindow
	c       *Commander
}

func newEnv(t *testing.T, calls ...call) *testEnv {
	t.Helper()
	return newEnvDebounce(t, time.Millisecond, calls...)
}

// newEnvDebounce is newEnv with an explicit keystroke debounce.
func newEnvDebounce(t *testing.T, debounce time.Duration, calls ...call) *testEnv {
	t.Helper()
	e := &testEnv{
		t:       t,
		changes: make(chan *fakePicker, 64),
		caller:  &mockCaller{expected: calls},
		history: history.New(history.NewMemoryKV()),
		window:  &fakeWindow{},
	}
	e.c = New(Options{
		Caller:   e.caller,
		Pickers:  func() picker.Picker { return newFakePicker(e.changes) },
		History:  e.history,
		Window:   e.window,
		Debounce: debounce,
		Logger:   discardLogger(),
	})
	t.Cleanup(func() { e.caller.done(t) })
	return e
}

type runResult struct {
	value string
	err   error
}

// run starts a session with no prefix and value as the editable text.
func (e *testEnv) run(value string) <-chan runResult {
	return e.runPrefix("", value)
}

func (e *testEnv) runPrefix(prefix, value string) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		v, err := e.c.Run(context.Background(), prefix, value)
		ch <- runResult{value: v, err: err}
	}()
	return ch
}

func (e *testEnv) wait(ch <-chan runResult) runResult {
	e.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		e.t.Fatal("timed out waiting for the command to finish")
		return runResult{}
	}
}

// itemsChanged waits for the next SetItems on any picker.
func (e *testEnv) itemsChanged() *fakePicker {
	e.t.Helper()
	select {
	case p := <-e.changes:
		return p
	case <-time.After(waitTimeout):
		e.t.Fatal("timed out waiting for items")
		return nil
	}
}

// changeValue types value and waits for the items to change.
func (e *testEnv) changeValue(p *fakePicker, value string) *fakePicker {
	e.t.Helper()
	p.edit(value)
	return e.itemsChanged()
}

// itemsChangedAccept accepts item i of the first round and waits for a
// successful finish.
func (e *testEnv) itemsChangedAccept(res <-chan runResult, i int) runResult {
	e.t.Helper()
	e.itemsChanged().accept(i)
	r := e.wait(res)
	require.NoError(e.t, r.err)
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func items(v ...any) map[string]any {
	return map[string]any{"items": v}
}

func completions(offset int, v ...any) map[string]any {
	m := items(v...)
	m["offset"] = offset
	return m
}

func requireNoResult(t *testing.T, r runResult) {
	t.Helper()
	require.NoError(t, r.err)
	assert.Empty(t, r.value)
}
