package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Defaults for SocketIOConfig.
const (
	DefaultEventName      = "gridlaunch"
	DefaultConnectTimeout = 10 * time.Second
)

// SocketIOConfig configures the socket.io relay.
type SocketIOConfig struct {
	// URL is the server address including the socket.io path, for example
	// "http://dashboard:3000/socket.io/".
	URL       string
	Namespace string
	// EventName is the socket.io event every lifecycle event is emitted as.
	EventName          string
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

// SocketIO relays events to a socket.io server over a websocket.
type SocketIO struct {
	io        *socket.Socket
	event     string
	connected atomic.Bool
	dropped   atomic.Int64
}

var _ Publisher = (*SocketIO)(nil)

// splitURL separates the manager base URL from the socket.io path.
func splitURL(raw string) (base, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse events URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("events URL %q needs a scheme and a host", raw)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), u.Path, nil
}

// DialSocketIO connects to the server and waits for the namespace to accept
// the connection.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("events_url", cfg.URL, "namespace", cfg.Namespace)

	base, path, err := splitURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.EventName == "" {
		cfg.EventName = DefaultEventName
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}

	opts := socket.DefaultOptions()
	if path != "" {
		opts.SetPath(path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(base, opts)
	io := manager.Socket(cfg.Namespace, opts)
	s := &SocketIO{io: io, event: cfg.EventName}

	ready := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		s.connected.Store(true)
		logger.Info("📡 Connected to events server.", "sid", io.Id())
		select {
		case ready <- nil:
		default:
		}
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		s.connected.Store(false)
		logger.Warn("Disconnected from events server.", "reason", fmt.Sprint(reason...))
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("events server refused connection: %v", fmt.Sprint(errs...))
		select {
		case ready <- err:
		default:
		}
	})

	io.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			io.Disconnect()
			return nil, err
		}
		return s, nil
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s connecting to events server %s", cfg.ConnectTimeout, cfg.URL)
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	}
}

// Publish emits e while connected. Events raised while disconnected are
// counted and dropped.
func (s *SocketIO) Publish(ctx context.Context, e Event) {
	if !s.connected.Load() {
		s.dropped.Add(1)
		return
	}
	s.io.Emit(s.event, e.Data())
}

// Dropped returns how many events were discarded while disconnected.
func (s *SocketIO) Dropped() int64 { return s.dropped.Load() }

// Close disconnects from the server.
func (s *SocketIO) Close() error {
	s.io.Disconnect()
	return nil
}
