// Package notify pushes task transitions to a socket.io server so dashboards
// can follow a run live. Delivery is best effort; the durable record is the
// state store.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/engine"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event is the socket.io event name every transition is emitted under.
const Event = "transition"

const connectTimeout = 15 * time.Second

// Notifier emits transitions over a connected socket.io client.
type Notifier struct {
	io *socket.Socket
}

// Dial connects to the socket.io server at rawURL. The URL path is used as the
// engine.io path; namespace may be empty for the default one.
func Dial(ctx context.Context, rawURL, namespace string) (*Notifier, error) {
	logger := ctxlog.FromContext(ctx).With("url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", rawURL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	logger.Debug("Connecting notifier.")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		logger.Info("Notifier connected.", "sid", io.Id())
		return &Notifier{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}

// Record implements engine.Journal.
func (n *Notifier) Record(_ context.Context, t engine.Transition) {
	n.io.Emit(Event, Payload(t))
}

// Close disconnects from the server.
func (n *Notifier) Close() error {
	n.io.Disconnect()
	return nil
}

// Payload is the JSON body of a transition event.
func Payload(t engine.Transition) map[string]any {
	p := map[string]any{
		"run_id":  t.RunID,
		"task":    t.Task.Key(),
		"chrom":   string(t.Task.Chrom),
		"stage":   string(t.Task.Stage),
		"from":    string(t.From),
		"to":      string(t.To),
		"attempt": t.Attempt,
		"at":      t.At.Format(time.RFC3339Nano),
	}
	if t.Task.Sample != "" {
		p["sample"] = t.Task.Sample
	}
	if id := t.Task.ChunkID(); id != "" {
		p["chunk"] = id
	}
	if t.ExitCode != 0 {
		p["exit_code"] = t.ExitCode
	}
	if t.Cause != "" {
		p["cause"] = t.Cause
	}
	return p
}
