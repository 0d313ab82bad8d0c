package docker

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/labels"
)

// EventListener watches lifecycle events of wharf-managed containers so an
// unexpected exit of an instance member shows up in the logs.
type EventListener struct {
	cli    EngineAPI
	onDie  func(name, token string)
	logf   func(string, ...any)
	repeat time.Duration
}

// NewEventListener creates a new Docker event listener
func NewEventListener(cli EngineAPI, onDie func(name, token string), logf func(string, ...any)) *EventListener {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if onDie == nil {
		onDie = func(string, string) {}
	}
	return &EventListener{cli: cli, onDie: onDie, logf: logf, repeat: 5 * time.Second}
}

// Start listens in a background goroutine until ctx is cancelled,
// reconnecting after stream errors.
func (e *EventListener) Start(ctx context.Context) {
	go func() {
		for ctx.Err() == nil {
			e.listen(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.repeat):
			}
		}
	}()
}

func (e *EventListener) listen(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("type", "container")
	f.Add("label", labels.LManaged+"=true")
	f.Add("event", "die")
	f.Add("event", "oom")

	eventsChan, errChan := e.cli.Events(ctx, events.ListOptions{Filters: f})
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errChan:
			if err != nil && err != io.EOF && ctx.Err() == nil {
				e.logf("event stream error: %v", err)
			}
			return
		case event := <-eventsChan:
			name := event.Actor.Attributes["name"]
			token := event.Actor.Attributes[labels.LToken]
			e.logf("docker event: %s %s %s (exit code %s)", event.Action, name,
				helpers.TruncateString(event.Actor.ID, 12), event.Actor.Attributes["exitCode"])
			e.onDie(name, token)
		}
	}
}
