// Package notify turns pushed payloads into notification display requests
// and resolves clicks on them into navigation commands.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
)

var ErrNoDisplay = errors.New("no notification display configured")

const (
	DefaultTitle = "Flight Price Update"
	DefaultBody  = "Flight prices have changed."
	DefaultTag   = "default"

	ActionView    = "view"
	ActionDismiss = "dismiss"

	// AppRoot is where clicks on a notification navigate to.
	AppRoot = "/"
)

var defaultVibration = []int{100, 50, 100}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a display request.
type Notification struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Icon    string          `json:"icon"`
	Badge   string          `json:"badge"`
	Vibrate []int           `json:"vibrate"`
	Data    json.RawMessage `json:"data,omitempty"`
	Tag     string          `json:"tag"`
	Actions []Action        `json:"actions"`
}

type payload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data"`
	Tag   string          `json:"tag"`
}

// Parse builds the notification for a pushed payload.
// Anything that is not a JSON object is shown with the default title and the raw text as body.
func Parse(raw []byte) Notification {
	n := Notification{
		Title:   DefaultTitle,
		Body:    DefaultBody,
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/badge-72x72.png",
		Vibrate: append([]int(nil), defaultVibration...),
		Tag:     DefaultTag,
		Actions: []Action{
			{Action: ActionView, Title: "View Prices", Icon: "/icons/checkmark.png"},
			{Action: ActionDismiss, Title: "Dismiss", Icon: "/icons/xmark.png"},
		},
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return n
	}

	var p payload
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) || json.Unmarshal(raw, &p) != nil {
		n.Body = string(raw)
		return n
	}
	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Body != "" {
		n.Body = p.Body
	}
	if p.Tag != "" {
		n.Tag = p.Tag
	}
	if len(p.Data) > 0 && !bytes.Equal(p.Data, []byte("null")) {
		n.Data = p.Data
	}
	return n
}

// Displayer shows notifications to the user.
type Displayer interface {
	Display(ctx context.Context, n Notification) error
}

// Navigator opens the application at a path.
type Navigator interface {
	Open(ctx context.Context, path string) error
}

// DisplayerFunc adapts a function to the Displayer interface.
type DisplayerFunc func(ctx context.Context, n Notification) error

func (f DisplayerFunc) Display(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Dispatcher reacts to push and notification click events.
type Dispatcher struct {
	display  Displayer
	navigate Navigator
	log      zerolog.Logger
}

// NewDispatcher returns a dispatcher. navigate may be nil, in which case
// clicks only report their navigation target.
func NewDispatcher(display Displayer, navigate Navigator, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{display: display, navigate: navigate, log: log}
}

// Push parses the payload and hands the notification to the displayer.
// Malformed payloads never fail; only the displayer can.
func (d *Dispatcher) Push(ctx context.Context, raw []byte) (Notification, error) {
	n := Parse(raw)
	if d.display == nil {
		return n, ErrNoDisplay
	}
	d.log.Debug().Str("tag", n.Tag).Str("title", n.Title).Msg("Displaying notification")
	if err := d.display.Display(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Click handles a click on a notification, either on one of its actions or on
// the notification itself (empty action). It returns the path navigated to,
// or "" if the click does not navigate.
func (d *Dispatcher) Click(ctx context.Context, action string) (string, error) {
	if action == ActionDismiss {
		d.log.Trace().Msg("Notification dismissed")
		return "", nil
	}
	if action != "" && action != ActionView {
		d.log.Debug().Str("action", action).Msg("Unknown notification action, opening application")
	}
	if d.navigate != nil {
		if err := d.navigate.Open(ctx, AppRoot); err != nil {
			return "", err
		}
	}
	return AppRoot, nil
}
