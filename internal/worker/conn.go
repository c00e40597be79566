package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"media-grabber/internal/logging"
	"media-grabber/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Publisher receives worker event frames, typically an events.Hub.
type Publisher interface {
	Emit(topic string, data ...interface{})
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Conn is a websocket connection to the worker. It multiplexes concurrent
// invocations by request id and republishes event frames to a Publisher.
type Conn struct {
	ws        *websocket.Conn
	publisher Publisher
	logger    *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan outcome
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the worker at url. publisher may be nil when events are
// not needed.
func Dial(ctx context.Context, url string, publisher Publisher, logger *slog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", url, err)
	}

	c := &Conn{
		ws:        ws,
		publisher: publisher,
		logger:    logging.OrDefault(logger),
		pending:   make(map[string]chan outcome),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Invoke sends command with args and waits for its result frame. If the
// connection drops first the call fails with ErrUnavailableRuntime.
func (c *Conn) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.invoke(ctx, command, args)

	outcomeLabel := "success"
	var invErr *InvocationError
	switch {
	case errors.Is(err, ErrUnavailableRuntime):
		outcomeLabel = "unavailable"
	case errors.As(err, &invErr):
		outcomeLabel = "error"
	case err != nil:
		outcomeLabel = "cancelled"
	}
	metrics.RecordInvocation(command, outcomeLabel, time.Since(start).Seconds())
	return result, err
}

func (c *Conn) invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	reqID := id.String()
	ch := make(chan outcome, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrUnavailableRuntime
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	frame := Frame{Type: FrameInvoke, ID: reqID, Command: command, Args: args}
	if err := c.write(frame); err != nil {
		c.forget(reqID)
		c.logger.Warn("worker write failed", "command", command, "error", err)
		c.shutdown()
		return nil, ErrUnavailableRuntime
	}
	c.logger.Debug("worker invoke", "command", command, "id", reqID)

	select {
	case out := <-ch:
		if invErr, ok := out.err.(*InvocationError); ok {
			invErr.Command = command
		}
		return out.result, out.err
	case <-ctx.Done():
		c.forget(reqID)
		return nil, ctx.Err()
	}
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection and fails all pending calls.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	// The peer may already be gone; shutdown below releases everything anyway.
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}

func (c *Conn) write(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) readLoop() {
	defer c.shutdown()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("worker connection lost", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed worker frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame Frame) {
	switch frame.Type {
	case FrameResult, FrameError:
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping reply for unknown request", "id", frame.ID)
			return
		}
		if frame.Type == FrameError {
			ch <- outcome{err: &InvocationError{Message: frame.Error}}
			return
		}
		ch <- outcome{result: frame.Result}
	case FrameEvent:
		if c.publisher == nil || frame.Event == "" {
			return
		}
		c.publisher.Emit(frame.Event, frame.Payload)
	default:
		c.logger.Debug("ignoring worker frame", "type", frame.Type)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[string]chan outcome)
		c.mu.Unlock()

		for _, ch := range pending {
			ch <- outcome{err: ErrUnavailableRuntime}
		}
		_ = c.ws.Close()
		close(c.done)
	})
}
