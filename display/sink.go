// Package display defines where session state is rendered.
//
// A Sink owns a set of surfaces (a chat message, a web panel) addressed by
// opaque ids. Sessions only ever replace a surface's whole text and update
// its single action control.
package display

import (
	"context"
	"errors"
)

// Style is the visual weight of an action control.
type Style string

const (
	StylePrimary   Style = "primary"
	StyleSecondary Style = "secondary"
	StyleSuccess   Style = "success"
	StyleDanger    Style = "danger"
)

// Action describes the control attached to a surface.
type Action struct {
	Label    string `json:"label"`
	Style    Style  `json:"style"`
	Disabled bool   `json:"disabled"`
}

// CloseAction is the control shown on a live session surface.
func CloseAction(disabled bool) Action {
	return Action{Label: "Close", Style: StyleDanger, Disabled: disabled}
}

// ErrUnknownSurface is returned when rendering to an id the sink does not know.
var ErrUnknownSurface = errors.New("unknown display surface")

// Sink renders session state. Both calls may fail on transport errors.
type Sink interface {
	// Render replaces the full visible text of surface id.
	Render(ctx context.Context, id, text string) error

	// SetAction updates the action control of surface id.
	SetAction(ctx context.Context, id string, action Action) error
}
