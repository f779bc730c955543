// Package clipboard wraps the system clipboard behind a small interface so
// the watch loop can be tested without a display server.
package clipboard

import (
	"context"

	xclipboard "golang.design/x/clipboard"

	"github.com/rotisserie/eris"
)

// Board reads the system clipboard and reports changes.
type Board interface {
	// Read returns the current text contents.
	Read() (string, error)
	// Watch emits the clipboard text each time it changes, until ctx is
	// cancelled.
	Watch(ctx context.Context) (<-chan string, error)
}

type systemBoard struct{}

// NewSystem initializes the OS clipboard. Fails when no clipboard device
// is available (headless session without X).
func NewSystem() (Board, error) {
	if err := xclipboard.Init(); err != nil {
		return nil, eris.Wrap(err, "clipboard: init")
	}
	return systemBoard{}, nil
}

func (systemBoard) Read() (string, error) {
	return string(xclipboard.Read(xclipboard.FmtText)), nil
}

func (systemBoard) Watch(ctx context.Context) (<-chan string, error) {
	raw := xclipboard.Watch(ctx, xclipboard.FmtText)
	out := make(chan string)
	go func() {
		defer close(out)
		for data := range raw {
			select {
			case out <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
