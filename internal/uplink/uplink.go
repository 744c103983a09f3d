// Package uplink mirrors evaluation events and telemetry samples to a
// socket.io server, for dashboards that watch a running patch.
package uplink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/telemetry"
	"github.com/vk/patchflow/internal/worker"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names used on the wire.
const (
	EventName     = "patchflow:event"
	TelemetryName = "patchflow:telemetry"
)

// Config locates the server.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds Dial. Zero means 15s.
	ConnectTimeout time.Duration
}

// EmitFunc sends one socket.io event.
type EmitFunc func(event string, args ...any)

// Uplink emits to one connection.
type Uplink struct {
	emit  EmitFunc
	close func()
}

// New wraps an emit function, typically a socket's Emit.
func New(emit EmitFunc) *Uplink {
	return &Uplink{emit: emit, close: func() {}}
}

// Dial connects to the server and waits for the namespace to accept.
func Dial(ctx context.Context, cfg Config) (*Uplink, error) {
	logger := ctxlog.FromContext(ctx).With("url", cfg.URL)
	logger.Debug("Connecting uplink...")

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	opts := socket.DefaultOptions()
	opts.SetPath(parsed.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("⚠️ Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(cfg.Namespace, opts)

	connected := make(outcome, 1)
	io.Once(types.EventName("connect"), connected.connect)
	io.Once(types.EventName("connect_error"), connected.connectError)
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("uplink connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for uplink connection", timeout)
	}
	logger.Info("Uplink connected.", "sid", io.Id())

	return &Uplink{
		emit:  func(event string, args ...any) { io.Emit(event, args...) },
		close: func() { io.Disconnect() },
	}, nil
}

// outcome keeps the first result of a connection attempt. Later results are
// dropped so socket callbacks never block.
type outcome chan error

func (o outcome) connect(...any) { o.report(nil) }

func (o outcome) connectError(args ...any) { o.report(connectErr(args)) }

func (o outcome) report(err error) {
	select {
	case o <- err:
	default:
	}
}

func connectErr(args []any) error {
	if len(args) == 0 {
		return errors.New("connection rejected")
	}
	if err, ok := args[0].(error); ok && err != nil {
		return err
	}
	return fmt.Errorf("%v", args[0])
}

// Close disconnects.
func (u *Uplink) Close() { u.close() }

// Event emits one evaluation event as a plain map.
func (u *Uplink) Event(ev worker.Event) error {
	body, err := plain(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	body["program"] = ev.Program.String()
	u.emit(EventName, body)
	return nil
}

// Telemetry emits one sample with metrics keyed by name.
func (u *Uplink) Telemetry(s telemetry.Sample) {
	metrics := make(map[string]float64, len(s.Values))
	for _, m := range telemetry.Metrics() {
		metrics[m.String()] = s.Value(m)
	}
	u.emit(TelemetryName, map[string]any{
		"time":     s.Time,
		"sequence": s.Sequence,
		"metrics":  metrics,
	})
}

// Relay copies every event from in to the returned channel and mirrors it
// upstream. The returned channel closes when in does.
func (u *Uplink) Relay(ctx context.Context, in <-chan worker.Event) <-chan worker.Event {
	out := make(chan worker.Event, cap(in))
	go func() {
		defer close(out)
		logger := ctxlog.FromContext(ctx)
		for ev := range in {
			if err := u.Event(ev); err != nil {
				logger.Warn("⚠️ Uplink event dropped.", "type", ev.Type, "error", err)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Stream emits a telemetry sample of seg every interval until ctx is done.
func (u *Uplink) Stream(ctx context.Context, seg *telemetry.Segment, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.Telemetry(seg.Sample())
		}
	}
}

// plain turns v into maps, slices and scalars through a msgpack round trip.
func plain(v any) (map[string]any, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
