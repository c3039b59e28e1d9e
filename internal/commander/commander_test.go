package commander

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/xt/internal/picker"
)

func TestListsCommandsWhenFirstLaunched(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
	)
	res := e.run("")
	p := e.itemsChanged()
	assert.Equal(t, []string{"open"}, p.texts())
	assert.Equal(t, DefaultPlaceholder, p.placeholder)
	assert.True(t, p.ignoreFocus)
	assert.False(t, p.sortByLabel)
	assert.True(t, p.Items()[0].AlwaysShow)

	p.Hide()
	requireNoResult(t, e.wait(res))
	assert.True(t, p.disposed)
}

func TestShowsCompletionsOnAcceptCommand(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
		call{"do_command", []any{"open"}, map[string]any{
			"type": "items", "items": []any{"dir/", "file"}, "offset": 5, "value": "open ",
		}},
	)
	res := e.run("")
	p := e.itemsChanged()
	p.accept(0)

	next := e.itemsChanged()
	assert.NotSame(t, p, next)
	assert.Equal(t, []string{"dir/", "file"}, next.texts())
	assert.Equal(t, "open ", next.Value())

	next.Hide()
	requireNoResult(t, e.wait(res))
}

func TestAcceptsAutoCompletedCommandOption(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
		call{"do_command", []any{"open"}, map[string]any{
			"type": "items", "items": []any{"dir/", "file"}, "value": "open ", "offset": 5,
		}},
		call{"do_command", []any{"open file"}, map[string]any{"type": "success", "value": "file"}},
	)
	res := e.run("")
	e.itemsChanged().accept(0)
	e.itemsChanged().accept(1)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "file", r.value)
}

func TestAcceptsCompletionWithFilepath(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5,
			"dir/",
			map[string]any{"label": "file", "filepath": "/file"},
		)},
	)
	res := e.run("open ")
	e.itemsChanged().accept(1)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "/file", r.value)
	assert.Empty(t, e.history.Get("open"))
}

func TestAcceptsCompletionAndGetsMoreCompletions(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"ag xyz "}, map[string]any{"type": "items", "items": []any{
			map[string]any{"label": "", "description": "ag xyz ~/project"},
			map[string]any{"label": "dir/", "is_completion": true},
		}, "offset": 7}},
		call{"get_completions", []any{"ag xyz dir/"}, map[string]any{"type": "items", "items": []any{
			map[string]any{"label": "", "description": "ag xyz dir/"},
		}, "offset": 11}},
	)
	res := e.run("ag xyz ")
	p := e.itemsChanged()
	p.accept(1)
	assert.Equal(t, "ag xyz dir/", p.nextValue(t))

	p = e.itemsChanged()
	require.Len(t, p.Items(), 1)
	assert.Equal(t, "ag xyz dir/", p.Items()[0].Description)

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestReturnsFilePath(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
		call{"do_command", []any{"open file"}, map[string]any{"type": "success", "value": "file"}},
	)
	res := e.run("open ")
	e.itemsChanged().accept(1)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "file", r.value)
}

func TestErrorsOnAcceptBadCommand(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"op "}, completions(0)},
		call{"do_command", []any{"op "}, map[string]any{"type": "error", "message": "Unknown command: 'op '"}},
	)
	res := e.run("op ")
	p := e.itemsChanged()
	assert.Empty(t, p.texts())
	p.accept(-1)

	r := e.wait(res)
	require.EqualError(t, r.err, "Unknown command: 'op '")
	var cmdErr *CommandError
	assert.ErrorAs(t, r.err, &cmdErr)
}

func TestErrorWithoutMessage(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"op "}, completions(0)},
		call{"do_command", []any{"op "}, map[string]any{"type": "error"}},
	)
	res := e.run("op ")
	e.itemsChanged().accept(-1)
	assert.EqualError(t, e.wait(res).err, "Unknown error")
}

func TestDoesNotFetchOnMatchOfExistingItem(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
	)
	res := e.run("")
	p := e.itemsChanged()
	p = e.changeValue(p, "ope")
	assert.Equal(t, []string{"open"}, p.texts())

	// Leave time for a wrongly scheduled fetch to reach the backend.
	time.Sleep(20 * time.Millisecond)
	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestFetchesOnCompleteMatch(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file1")},
		call{"get_completions", []any{"open dir/"}, completions(9, "file2")},
	)
	res := e.run("open ")
	p := e.itemsChanged()
	assert.Equal(t, []string{"dir/", "file1"}, p.texts())

	p = e.changeValue(p, "open dir/")
	assert.Equal(t, []string{"dir/"}, p.texts())
	p = e.itemsChanged()
	assert.Equal(t, []string{"file2"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestFetchesFirstArgument(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
	)
	res := e.run("")
	p := e.itemsChanged()
	p = e.changeValue(p, "open ")
	assert.Equal(t, []string{"dir/", "file"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestFiltersCompletions(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
	)
	res := e.run("open ")
	p := e.itemsChanged()

	p = e.changeValue(p, "open d")
	assert.Equal(t, []string{"dir/"}, p.texts())
	p = e.changeValue(p, "open ")
	assert.Equal(t, []string{"dir/", "file"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestBurstOfEditsFetchesOnce(t *testing.T) {
	e := newEnvDebounce(t, 100*time.Millisecond,
		call{"get_completions", []any{""}, completions(0, "open")},
		call{"get_completions", []any{"xyz"}, completions(0, "xyz1", "xyz2")},
	)
	res := e.run("")
	p := e.itemsChanged()

	p.edit("x")
	p.edit("xy")
	last := time.Now()
	p.edit("xyz")

	p = e.itemsChanged()
	assert.GreaterOrEqual(t, time.Since(last), 100*time.Millisecond)
	assert.Equal(t, []string{"xyz1", "xyz2"}, p.texts())

	// A second debounce window must pass without another fetch.
	time.Sleep(150 * time.Millisecond)
	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestRefetchesOnBackspace(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
		call{"get_completions", []any{"open"}, completions(0, "open")},
	)
	res := e.run("open ")
	p := e.itemsChanged()
	p = e.changeValue(p, "open d")
	assert.Equal(t, []string{"dir/"}, p.texts())
	p = e.changeValue(p, "open")
	assert.Equal(t, []string{"open"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestShowsNoCompletionsOnNoMatch(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
		call{"get_completions", []any{"ox"}, completions(0)},
	)
	res := e.run("")
	p := e.itemsChanged()
	p = e.changeValue(p, "ox")
	assert.Empty(t, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestSupportsDetailInCompletions(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"cmd "}, completions(5,
			map[string]any{"label": "text 1", "detail": "detail 1"},
			map[string]any{"label": "text 2", "detail": "detail 2"},
		)},
	)
	res := e.run("cmd ")
	p := e.itemsChanged()
	assert.Equal(t, []string{"text 1/detail 1", "text 2/detail 2"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestPrefixIsKeptOutOfTheEditableValue(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
		call{"do_command", []any{"open file"}, map[string]any{"type": "success", "value": "file"}},
	)
	res := e.runPrefix("open ", "")
	p := e.itemsChanged()
	assert.Equal(t, "open", p.placeholder)
	assert.Equal(t, "", p.Value())

	p = e.changeValue(p, "f")
	assert.Equal(t, []string{"file"}, p.texts())
	p.accept(0)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "file", r.value)
}

func TestFetchErrorEndsSession(t *testing.T) {
	c := New(Options{
		Caller:   errCaller{err: errors.New("backend gone")},
		Pickers:  func() picker.Picker { return newFakePicker(make(chan *fakePicker, 8)) },
		Debounce: time.Millisecond,
		Logger:   discardLogger(),
	})
	_, err := c.Run(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get_completions")
	assert.Contains(t, err.Error(), "backend gone")
}

func TestContextCancelEndsSession(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{""}, completions(0, "open")},
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.c.Run(ctx, "", "")
		done <- err
	}()
	e.itemsChanged()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("session did not stop")
	}
}

func TestFiltersResultsAndReturnsFilepath(t *testing.T) {
	results := []any{
		map[string]any{"label": "1: file 1", "detail": "file1", "filepath": "/dir/file1"},
		map[string]any{"label": "1: file 2", "detail": "file2", "filepath": "/dir/file2"},
	}
	e := newEnv(t,
		call{"get_completions", []any{"ag file"}, completions(3)},
		call{"do_command", []any{"ag file"}, map[string]any{
			"type": "items", "items": results, "offset": 7, "filter_results": true,
		}},
	)
	res := e.run("ag file")
	e.itemsChanged().accept(-1)

	p := e.itemsChanged()
	assert.Equal(t, "", p.Value())
	assert.Equal(t, "ag file", p.placeholder)
	assert.Equal(t, []string{"1: file 1/file1", "1: file 2/file2"}, p.texts())
	assert.False(t, p.Items()[0].AlwaysShow)
	assert.True(t, p.matchDesc)
	assert.True(t, p.matchDetail)
	p.accept(1)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "/dir/file2", r.value)
	assert.Equal(t, []string{"file"}, e.history.Get("ag"))
}

func TestCancelFilteredResults(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"ag file"}, completions(3)},
		call{"do_command", []any{"ag file"}, map[string]any{
			"type": "items", "offset": 7, "filter_results": true,
			"items": []any{map[string]any{"label": "1: file 1", "detail": "file1", "filepath": "/dir/file1"}},
		}},
	)
	res := e.run("ag file")
	e.itemsChanged().accept(-1)

	p := e.itemsChanged()
	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestSuccessIsRememberedUnlessOptedOut(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "a", "b")},
		call{"do_command", []any{"open a"}, map[string]any{"type": "success", "value": "a"}},
		call{"get_completions", []any{"open "}, completions(5, "a", "b")},
		call{"do_command", []any{"open b"}, map[string]any{"type": "success", "value": "b", "no_history": true}},
	)
	e.itemsChangedAccept(e.run("open "), 0)
	assert.Equal(t, []string{"a"}, e.history.Get("open"))

	res := e.run("open ")
	p := e.itemsChanged()
	// "open a" is already listed, so no history item is added.
	assert.Equal(t, []string{"a", "b"}, p.texts())
	p.accept(1)
	require.NoError(t, e.wait(res).err)
	assert.Equal(t, []string{"a"}, e.history.Get("open"))
}

func TestHistoryItemsArePrepended(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
	)
	require.NoError(t, e.history.Update("open", "file"))
	require.NoError(t, e.history.Update("open", "other/x"))
	require.NoError(t, e.history.Update("open", "dir/x"))

	res := e.run("open ")
	p := e.itemsChanged()
	assert.Equal(t, []string{"open dir/x", "open other/x", "dir/", "file"}, p.texts())
	assert.True(t, p.item(0).IsHistory)
	assert.False(t, p.item(2).IsHistory)

	// History entries narrow with the typed remainder.
	p = e.changeValue(p, "open d")
	assert.Equal(t, []string{"open dir/x", "dir/"}, p.texts())

	p.Hide()
	requireNoResult(t, e.wait(res))
}

func TestHistoryNavigation(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "dir/", "file")},
		call{"do_command", []any{"open dir/x"}, map[string]any{"type": "success", "value": "x"}},
	)
	require.NoError(t, e.history.Update("open", "file"))
	require.NoError(t, e.history.Update("open", "dir/x"))

	res := e.runPrefix("open ", "")
	p := e.itemsChanged()
	require.Equal(t, []string{"open dir/x", "dir/", "file"}, p.texts())

	p.activate(0)
	assert.Equal(t, "dir/x", p.nextValue(t))
	p.activate(1)
	assert.Equal(t, "", p.nextValue(t))
	p.activate(0)
	assert.Equal(t, "dir/x", p.nextValue(t))
	p.accept(0)

	r := e.wait(res)
	require.NoError(t, r.err)
	assert.Equal(t, "x", r.value)
	assert.Equal(t, []string{"dir/x", "file"}, e.history.Get("open"))
}

func TestClearHistoryConfirmed(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"history open"}, completions(0)},
		call{"do_command", []any{"history open"}, map[string]any{
			"type": "items", "items": []any{}, "clear_history": true, "command": "open",
		}},
	)
	require.NoError(t, e.history.Update("open", "file"))
	e.window.answer, e.window.answered = "clear open history", true

	e.itemsChangedAccept(e.run("history open"), -1)
	assert.Empty(t, e.history.Get("open"))
	assert.Equal(t, []string{"open history cleared"}, e.window.messages)
	assert.Equal(t, []string{"Type 'clear open history' to confirm"}, e.window.prompts)
}

func TestClearHistoryRejected(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"history open"}, completions(0)},
		call{"do_command", []any{"history open"}, map[string]any{
			"type": "items", "items": []any{}, "clear_history": true, "command": "open",
		}},
	)
	require.NoError(t, e.history.Update("open", "file"))
	e.window.answer, e.window.answered = "clear it", true

	e.itemsChangedAccept(e.run("history open"), -1)
	assert.Equal(t, []string{"file"}, e.history.Get("open"))
	assert.Equal(t, []string{"open history not cleared"}, e.window.warnings)
}

func TestCommandOpensResult(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"open "}, completions(5, "main.go")},
		call{"do_command", []any{"open main.go"}, map[string]any{"type": "success", "value": "/src/main.go:3:4"}},
	)
	var gotPath string
	var gotLoc *Goto
	e.c.opener = OpenerFunc(func(_ context.Context, path string, loc *Goto) error {
		gotPath, gotLoc = path, loc
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- e.c.Command(context.Background(), "open ") }()
	e.itemsChanged().accept(0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("command did not finish")
	}
	assert.Equal(t, "/src/main.go", gotPath)
	assert.Equal(t, &Goto{Line: 3, Start: 4}, gotLoc)
	assert.Empty(t, e.window.errors)
}

func TestCommandShowsErrors(t *testing.T) {
	e := newEnv(t,
		call{"get_completions", []any{"op "}, completions(0)},
		call{"do_command", []any{"op "}, map[string]any{"type": "error", "message": "Unknown command: 'op '"}},
	)
	done := make(chan error, 1)
	go func() { done <- e.c.Command(context.Background(), "op ") }()
	e.itemsChanged().accept(-1)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("command did not finish")
	}
	assert.Equal(t, []string{"Unknown command: 'op '"}, e.window.errors)
}

func TestDispatchResultDecoding(t *testing.T) {
	var res DispatchResult
	require.NoError(t, json.Unmarshal([]byte(`{"type":"success","value":"/a/b"}`), &res))
	assert.Equal(t, "/a/b", res.String())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"success","value":null}`), &res))
	assert.Equal(t, "", res.String())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"success","value":{"n":1}}`), &res))
	assert.Equal(t, `{"n":1}`, res.String())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"items","items":["a",{"label":"b","offset":2}],"offset":4,"value":"x "}`), &res))
	require.NotNil(t, res.Completions)
	assert.Equal(t, "x ", *res.Completions.Value)
	assert.Equal(t, 4, res.Completions.offsetOf(res.Completions.Items[0]))
	assert.Equal(t, 2, res.Completions.offsetOf(res.Completions.Items[1]))

	assert.Error(t, json.Unmarshal([]byte(`{"type":"bogus"}`), &res))
}

func TestItemDecoding(t *testing.T) {
	var resp CompletionResponse
	require.NoError(t, json.Unmarshal([]byte(`{"items":["a",3,true,{"label":"b","is_completion":true}]}`), &resp))
	require.Len(t, resp.Items, 4)
	assert.Equal(t, "a", resp.Items[0].Label)
	assert.Equal(t, "3", resp.Items[1].Label)
	assert.Equal(t, "true", resp.Items[2].Label)
	assert.True(t, resp.Items[3].IsCompletion)

	require.NoError(t, json.Unmarshal([]byte(`{"offset":1}`), &resp))
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
}

func TestSplitPrefix(t *testing.T) {
	p, v := splitPrefix("open ", "open dir/")
	assert.Equal(t, "open ", p)
	assert.Equal(t, "dir/", v)

	p, v = splitPrefix("open ", "ag x")
	assert.Equal(t, "", p)
	assert.Equal(t, "ag x", v)
}
