package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const eventExt = ".event"

// ErrUnknownEvent is returned by Event.Validate for a type no Inbox
// handler understands.
var ErrUnknownEvent = errors.New("notify: unknown event type")

// Validate reports whether e is a well-formed event of a known type.
func (e Event) Validate() error {
	switch e.Type {
	case EventSessionEnded:
		if e.SessionID == "" {
			return errors.New("notify: session_ended without session_id")
		}
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, e.Type)
	}
}

// EventHandler consumes one event read from the inbox.
type EventHandler func(ctx context.Context, e Event) error

// Inbox consumes event files that other processes (the CLI, hooks) drop
// into a shared directory and routes each one to the handler registered
// for its type. Every file is removed once read, whether or not it was
// handled.
type Inbox struct {
	dir    string
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewInbox creates an inbox over dir. Register handlers before Run.
func NewInbox(dir string, logger zerolog.Logger) *Inbox {
	return &Inbox{
		dir:      dir,
		logger:   logger.With().Str("component", "event_inbox").Logger(),
		handlers: make(map[string]EventHandler),
	}
}

// Handle routes events of the given type to h, replacing any earlier
// handler for that type.
func (in *Inbox) Handle(eventType string, h EventHandler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handlers[eventType] = h
}

// Listen creates the directory and subscribes to it. The returned function
// consumes files already present, then blocks handling new ones until ctx
// is cancelled.
func (in *Inbox) Listen() (func(ctx context.Context), error) {
	if err := os.MkdirAll(in.dir, 0o700); err != nil {
		return nil, fmt.Errorf("notify: mkdir %s: %w", in.dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("notify: watcher: %w", err)
	}
	if err := w.Add(in.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("notify: watch %s: %w", in.dir, err)
	}

	return func(ctx context.Context) {
		defer func() { _ = w.Close() }()
		in.logger.Info().Str("dir", in.dir).Msg("event inbox listening")
		in.consumeBacklog(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case fe, ok := <-w.Events:
				if !ok {
					return
				}
				// Writers publish with a rename, which arrives as Create.
				if fe.Has(fsnotify.Create) && isEventFile(fe.Name) {
					in.consume(ctx, fe.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				in.logger.Warn().Err(err).Msg("event inbox watch error")
			}
		}
	}, nil
}

func isEventFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, eventExt) && !strings.HasPrefix(base, ".")
}

func (in *Inbox) consumeBacklog(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn().Err(err).Msg("event inbox backlog unreadable")
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.Type().IsRegular() && isEventFile(entry.Name()) {
			in.consume(ctx, filepath.Join(in.dir, entry.Name()))
		}
	}
}

// consume reads, removes and dispatches one file.
func (in *Inbox) consume(ctx context.Context, path string) {
	log := in.logger.With().Str("file", filepath.Base(path)).Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		// Another consumer got there first.
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not remove event file")
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		log.Warn().Err(err).Msg("discarding undecodable event file")
		return
	}
	if err := e.Validate(); err != nil {
		log.Warn().Err(err).Msg("discarding invalid event")
		return
	}

	in.mu.RLock()
	h := in.handlers[e.Type]
	in.mu.RUnlock()
	if h == nil {
		log.Debug().Str("type", e.Type).Msg("no handler for event")
		return
	}
	if err := h(ctx, e); err != nil {
		log.Error().Err(err).
			Str("type", e.Type).
			Str("session_id", e.SessionID).
			Str("user_id", e.UserID).
			Msg("event handler failed")
	}
}
