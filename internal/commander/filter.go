package commander

import (
	"context"
	"fmt"

	"github.com/runger/xt/internal/picker"
)

// filterResults lets the user narrow a result list with the picker's own
// matching and returns the chosen item's file path.
func (c *Commander) filterResults(ctx context.Context, resp *CompletionResponse, command string) (string, error) {
	p := c.pickers()
	defer p.Dispose()

	placeholder := resp.Placeholder
	if placeholder == "" {
		placeholder = command
	}
	p.SetPlaceholder(placeholder)
	p.SetIgnoreFocusOut(true)
	p.SetMatchOnDescription(true)
	p.SetMatchOnDetail(true)
	p.SetSortByLabel(false)
	p.SetItems(toPickerItems(resp.Items, false))
	p.Show()

	distributed := resp.KeepEmptyDetails
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case ev, ok := <-p.Events():
			if !ok {
				return "", nil
			}
			switch ev.Kind {
			case picker.ValueChanged:
				if !distributed {
					distributed = true
					p.SetItems(toPickerItems(DistributeDetails(resp.Items), false))
				}

			case picker.Accepted:
				p.Hide()
				it, ok := itemOf(ev.Items)
				if !ok {
					return "", nil
				}
				if it.Copy {
					if err := c.window.WriteClipboard(it.Label); err != nil {
						return "", fmt.Errorf("copy to clipboard: %w", err)
					}
					c.window.ShowMessage("Copied to clipboard")
					return "", nil
				}
				return it.Filepath, nil

			case picker.Hidden:
				return "", nil
			}
		}
	}
}

// DistributeDetails copies each item's detail onto the detail-less items
// before it. Results tagged only on the last line of each file keep their
// file context once filtering separates them. items is not modified.
func DistributeDetails(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	detail := ""
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Detail != "" {
			detail = out[i].Detail
		} else {
			out[i].Detail = detail
		}
	}
	return out
}
