package commander

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Item is one completion or result row sent by the backend. On the wire it
// is either an object or a bare string used as the label.
type Item struct {
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Offset       *int   `json:"offset,omitempty"`
	Filepath     string `json:"filepath,omitempty"`
	IsCompletion bool   `json:"is_completion,omitempty"`
	IsHistory    bool   `json:"is_history,omitempty"`
	Copy         bool   `json:"copy,omitempty"`
}

// UnmarshalJSON accepts an object, a string, or any other scalar.
func (it *Item) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty item")
	}
	switch data[0] {
	case '{':
		type plain Item
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*it = Item(p)
		return nil
	case '"':
		*it = Item{}
		return json.Unmarshal(data, &it.Label)
	default:
		*it = Item{Label: string(data)}
		return nil
	}
}

// CompletionResponse is the backend's answer for a command text.
type CompletionResponse struct {
	Items       []Item  `json:"items"`
	Offset      int     `json:"offset"`
	Placeholder string  `json:"placeholder,omitempty"`
	Value       *string `json:"value,omitempty"`

	FilterResults    bool `json:"filter_results,omitempty"`
	KeepEmptyDetails bool `json:"keep_empty_details,omitempty"`

	// ClearHistory asks to clear the history of Command after confirmation.
	ClearHistory bool   `json:"clear_history,omitempty"`
	Command      string `json:"command,omitempty"`

	// NoHistory opts the executed command out of history write-back.
	NoHistory bool `json:"no_history,omitempty"`
}

// UnmarshalJSON decodes a response, normalizing missing items to empty.
func (r *CompletionResponse) UnmarshalJSON(data []byte) error {
	type plain CompletionResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = CompletionResponse(p)
	if r.Items == nil {
		r.Items = []Item{}
	}
	return nil
}

// offsetOf returns where it splices into the command text.
func (r *CompletionResponse) offsetOf(it Item) int {
	if it.Offset != nil {
		return *it.Offset
	}
	return r.Offset
}

// Dispatch result types.
const (
	TypeSuccess = "success"
	TypeItems   = "items"
	TypeError   = "error"
)

// DispatchResult is the outcome of do_command.
type DispatchResult struct {
	Type string

	// Value is the success payload.
	Value json.RawMessage

	// Message is the error text.
	Message string

	// Completions is set for TypeItems.
	Completions *CompletionResponse

	NoHistory bool
}

// UnmarshalJSON decodes the tagged union.
func (d *DispatchResult) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      string          `json:"type"`
		Value     json.RawMessage `json:"value"`
		Message   string          `json:"message"`
		NoHistory bool            `json:"no_history"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*d = DispatchResult{
		Type:      head.Type,
		Message:   head.Message,
		NoHistory: head.NoHistory,
	}
	switch head.Type {
	case TypeItems:
		var comp CompletionResponse
		if err := json.Unmarshal(data, &comp); err != nil {
			return fmt.Errorf("decode items result: %w", err)
		}
		d.Completions = &comp
	case TypeSuccess:
		d.Value = head.Value
	case TypeError:
	default:
		return fmt.Errorf("unknown result type %q", head.Type)
	}
	return nil
}

// String renders the success payload as text: strings unquoted, null empty,
// anything else as JSON.
func (d *DispatchResult) String() string {
	raw := bytes.TrimSpace(d.Value)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// CommandError is a backend-reported command failure.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// defaultErrorMessage is used when the backend sends an error without text.
const defaultErrorMessage = "Unknown error"

// Goto is a position suffix parsed from a result path.
type Goto struct {
	Line   int
	Start  int
	Length int
}

func (g Goto) String() string {
	return strconv.Itoa(g.Line) + ":" + strconv.Itoa(g.Start) + ":" + strconv.Itoa(g.Length)
}
