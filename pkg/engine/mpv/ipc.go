package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/go-drift/videoplayer/pkg/errors"
)

// ErrClosed is returned by calls on a connection that has shut down.
var ErrClosed = stderrors.New("mpv: connection closed")

// maxLine bounds one IPC message; track lists of large files are the biggest.
const maxLine = 4 << 20

// CommandError is a reply whose error field is not "success".
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mpv: %s: %s", e.Command, e.Reason)
}

// message is any line mpv writes: a command reply or an event.
type message struct {
	Event     string          `json:"event,omitempty"`
	ID        int64           `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	FileError string          `json:"file_error,omitempty"`
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// pendingCall represents a command waiting for its reply. done is nil for
// commands sent with Send.
type pendingCall struct {
	command string
	done    chan struct{}
	data    json.RawMessage
	err     error
}

// conn speaks mpv's JSON IPC protocol: newline-delimited JSON, replies
// matched to commands by request_id, events interleaved.
type conn struct {
	rw      io.ReadWriteCloser
	logger  logrus.FieldLogger
	onEvent func(message)

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[int64]*pendingCall
	nextID  atomic.Int64
	closed  chan struct{}
	once    sync.Once
}

func newConn(rw io.ReadWriteCloser, logger logrus.FieldLogger, onEvent func(message)) *conn {
	c := &conn{
		rw:      rw,
		logger:  logger,
		onEvent: onEvent,
		enc:     json.NewEncoder(rw),
		pending: make(map[int64]*pendingCall),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a command and waits for its reply.
func (c *conn) Call(ctx context.Context, args ...any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	pc := &pendingCall{command: commandName(args), done: make(chan struct{})}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.write(request{Command: args, RequestID: id}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-pc.done:
		return pc.data, pc.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Send writes a command without waiting. A rejected command is reported
// as an engine fault.
func (c *conn) Send(args ...any) error {
	id := c.nextID.Add(1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[id] = &pendingCall{command: commandName(args)}
	c.mu.Unlock()

	if err := c.write(request{Command: args, RequestID: id}); err != nil {
		c.forget(id)
		return err
	}
	return nil
}

func (c *conn) write(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("mpv: write %s: %w", commandName(req.Command), err)
	}
	return nil
}

func (c *conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) readLoop() {
	defer c.Close()
	defer errors.Recover("mpv.readLoop")

	scanner := bufio.NewScanner(c.rw)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		var m message
		if err := json.Unmarshal(line, &m); err != nil {
			errors.Report(&errors.PlayerError{
				Op:   "mpv.readLoop",
				Kind: errors.KindParsing,
				Err:  &errors.ParseError{Source: "mpv ipc", DataType: "message", Got: string(line)},
			})
			continue
		}
		if m.Event != "" {
			if c.onEvent != nil {
				c.onEvent(m)
			}
			continue
		}
		c.complete(m)
	}
	if err := scanner.Err(); err != nil {
		c.logger.WithError(err).Debug("mpv ipc read ended")
	}
}

func (c *conn) complete(m message) {
	c.mu.Lock()
	pc := c.pending[m.RequestID]
	delete(c.pending, m.RequestID)
	c.mu.Unlock()

	if pc == nil {
		// The caller gave up waiting.
		c.logger.WithFields(logrus.Fields{"request": m.RequestID, "error": m.Error}).Debug("late mpv reply dropped")
		return
	}
	if m.Error != "success" {
		pc.err = &CommandError{Command: pc.command, Reason: m.Error}
	}
	if pc.done == nil {
		if pc.err != nil {
			errors.Report(&errors.PlayerError{Op: "mpv.Send", Kind: errors.KindEngine, Err: pc.err})
		}
		return
	}
	pc.data = m.Data
	close(pc.done)
}

// Done is closed once the connection has shut down.
func (c *conn) Done() <-chan struct{} {
	return c.closed
}

// Close shuts the connection and fails every pending call with ErrClosed.
func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		close(c.closed)
		pending := c.pending
		c.pending = make(map[int64]*pendingCall)
		c.mu.Unlock()

		err = c.rw.Close()
		for _, pc := range pending {
			if pc.done != nil {
				pc.err = ErrClosed
				close(pc.done)
			}
		}
	})
	return err
}

func commandName(args []any) string {
	if len(args) == 0 {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	return fmt.Sprint(args[0])
}
