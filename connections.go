// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stomp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/stomp/frames"
)

const (
	frameTerminator   byte = 0x00
	flushTimeout           = 2 * time.Second // the longest a stopping connection waits to flush pending frames
	defaultFrameLimit      = 64 * 1024
)

// ReadFn is the function signature for the function used for handling frames read from a connection.
type ReadFn = func(*Connection, frames.Frame) error

// Connections is a map of the live connections, keyed on registry id.
type Connections struct {
	internal map[int]*Connection
	sync.RWMutex
}

// NewConnections returns an instance of Connections.
func NewConnections() *Connections {
	return &Connections{
		internal: make(map[int]*Connection),
	}
}

// Add adds a connection to the map.
func (c *Connections) Add(cl *Connection) {
	c.Lock()
	defer c.Unlock()
	c.internal[cl.ID] = cl
}

// Get returns the value of a connection if it exists.
func (c *Connections) Get(id int) (*Connection, bool) {
	c.RLock()
	defer c.RUnlock()
	cl, ok := c.internal[id]
	return cl, ok
}

// Len returns the number of connections.
func (c *Connections) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.internal)
}

// Delete removes a connection from the map.
func (c *Connections) Delete(id int) {
	c.Lock()
	defer c.Unlock()
	delete(c.internal, id)
}

// GetAll returns the connections ordered by id.
func (c *Connections) GetAll() []*Connection {
	c.RLock()
	defer c.RUnlock()
	out := make([]*Connection, 0, len(c.internal))
	for _, cl := range c.internal {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByListener returns the open connections accepted by a listener.
func (c *Connections) GetByListener(id string) []*Connection {
	var out []*Connection
	for _, cl := range c.GetAll() {
		if cl.Net.Listener == id && !cl.Closed() {
			out = append(out, cl)
		}
	}
	return out
}

// Connection is a single transport connection and the protocol state bound to it.
type Connection struct {
	ID       int           // the registry id of the connection
	Session  string        // a globally unique id for logs and hooks
	Net      ConnectionNet // network details of the connection
	State    ConnectionState
	Log      *slog.Logger
	protocol *Protocol
	ops      *ops
	username atomic.Value
}

// ConnectionNet contains the network details of a connection.
type ConnectionNet struct {
	Conn     net.Conn // the net.Conn used to establish the connection
	Remote   string   // the remote address of the connection
	Listener string   // the listener id the connection was accepted on
}

// ConnectionState tracks the lifecycle and outbound queue of a connection.
type ConnectionState struct {
	outbound    chan string   // frames waiting to be written
	outboundQty int32         // number of frames in the outbound queue
	done        chan struct{} // closed when the connection is stopping
	writerDone  chan struct{} // closed when the write loop has returned
	writing     int32         // set while the write loop is running
	endOnce     sync.Once     // only end once
	stopCause   atomic.Value  // the reason the connection was stopped
	open        int32         // 1 until the connection is stopped
	framesIn    int64         // frames read from this connection
	framesOut   int64         // frames written to this connection
	bytesIn     int64         // bytes read from this connection
	bytesOut    int64         // bytes written to this connection
}

// newConnection returns a connection bound to a net.Conn.
func newConnection(c net.Conn, id int, o *ops) *Connection {
	cl := &Connection{
		ID:      id,
		Session: xid.New().String(),
		State: ConnectionState{
			outbound:   make(chan string, o.options.Capabilities.MaximumClientWritesPending),
			done:       make(chan struct{}),
			writerDone: make(chan struct{}),
			open:       1,
		},
		ops: o,
	}

	if c != nil {
		cl.Net = ConnectionNet{
			Conn:   c,
			Remote: c.RemoteAddr().String(),
		}
	}

	cl.Log = o.log.With("client", cl.ID, "session", cl.Session)
	return cl
}

// Username returns the username the connection logged in with, if any.
func (cl *Connection) Username() string {
	v, _ := cl.username.Load().(string)
	return v
}

func (cl *Connection) setUsername(u string) {
	cl.username.Store(u)
}

// Deliver queues an encoded frame for writing without blocking. Frames are
// dropped when the connection is closing or its queue is full.
func (cl *Connection) Deliver(frame string) {
	select {
	case <-cl.State.done:
		return
	default:
	}

	select {
	case cl.State.outbound <- frame:
		atomic.AddInt32(&cl.State.outboundQty, 1)
	default:
		atomic.AddInt64(&cl.ops.info.MessagesDropped, 1)
		cl.Log.Warn("outbound queue full, frame dropped", "pending", atomic.LoadInt32(&cl.State.outboundQty))
	}
}

// Start begins writing queued frames to the connection.
func (cl *Connection) Start() {
	atomic.StoreInt32(&cl.State.writing, 1)
	go cl.WriteLoop()
}

// WriteLoop writes queued frames to the connection until it is stopped, then
// flushes whatever is still queued. Stop only waits for the loop if it was
// launched with Start.
func (cl *Connection) WriteLoop() {
	defer close(cl.State.writerDone)
	if cl.Net.Conn == nil {
		return
	}

	w := bufio.NewWriterSize(cl.Net.Conn, cl.ops.options.ClientNetWriteBufferSize)
	for {
		select {
		case frame := <-cl.State.outbound:
			if err := cl.writeFrame(w, frame); err != nil {
				return
			}
			if len(cl.State.outbound) == 0 {
				if err := w.Flush(); err != nil {
					cl.Log.Debug("failed to flush frames", "error", err)
					return
				}
			}
		case <-cl.State.done:
			cl.drain(w)
			return
		}
	}
}

// drain writes the frames left in the queue.
func (cl *Connection) drain(w *bufio.Writer) {
	for {
		select {
		case frame := <-cl.State.outbound:
			if err := cl.writeFrame(w, frame); err != nil {
				return
			}
		default:
			_ = w.Flush()
			return
		}
	}
}

// writeFrame writes a single terminated frame to the buffered writer.
func (cl *Connection) writeFrame(w *bufio.Writer, frame string) error {
	atomic.AddInt32(&cl.State.outboundQty, -1)
	n, err := w.WriteString(frame)
	if err == nil {
		err = w.WriteByte(frameTerminator)
		n++
	}
	if err != nil {
		cl.Log.Debug("failed to write frame", "error", err)
		return err
	}

	atomic.AddInt64(&cl.State.framesOut, 1)
	atomic.AddInt64(&cl.State.bytesOut, int64(n))
	atomic.AddInt64(&cl.ops.info.FramesSent, 1)
	atomic.AddInt64(&cl.ops.info.BytesSent, int64(n))
	return nil
}

// Read reads NUL terminated frames from the connection and passes them to the
// handler until the connection ends or the handler returns an error.
func (cl *Connection) Read(handler ReadFn) error {
	if cl.Net.Conn == nil {
		return ErrConnectionClosed
	}

	limit := int(cl.ops.options.Capabilities.MaximumFrameSize)
	if limit <= 0 {
		limit = defaultFrameLimit
	}

	scanner := bufio.NewScanner(&countingReader{r: cl.Net.Conn, cl: cl})
	scanner.Buffer(make([]byte, 0, min(cl.ops.options.ClientNetReadBufferSize, limit)), limit)
	scanner.Split(scanFrames)

	for scanner.Scan() {
		f, err := frames.Parse(scanner.Text())
		if errors.Is(err, frames.ErrEmptyFrame) {
			continue
		}

		atomic.AddInt64(&cl.State.framesIn, 1)
		if err := handler(cl, f); err != nil {
			return err
		}
	}

	if err := cl.StopCause(); err != nil {
		return err
	}

	return scanner.Err()
}

// scanFrames is a bufio.SplitFunc which splits a stream on the frame terminator.
// EOL bytes between frames are dropped, as is a partial frame at the end of the stream.
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}

	if i := bytes.IndexByte(data[start:], frameTerminator); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}

	if atEOF {
		return len(data), nil, nil
	}

	return start, nil, nil
}

// countingReader counts bytes read from a connection.
type countingReader struct {
	r  io.Reader
	cl *Connection
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		atomic.AddInt64(&c.cl.State.bytesIn, int64(n))
		atomic.AddInt64(&c.cl.ops.info.BytesReceived, int64(n))
	}
	return n, err
}

// Stop closes the connection once, giving queued frames a chance to be written first.
func (cl *Connection) Stop(err error) {
	cl.State.endOnce.Do(func() {
		if err != nil {
			cl.State.stopCause.Store(err)
		}

		atomic.StoreInt32(&cl.State.open, 0)
		close(cl.State.done)

		if cl.Net.Conn == nil {
			return
		}

		_ = cl.Net.Conn.SetWriteDeadline(time.Now().Add(flushTimeout))
		if atomic.LoadInt32(&cl.State.writing) == 1 {
			<-cl.State.writerDone
		}

		_ = cl.Net.Conn.Close()
	})
}

// StopCause returns the reason the connection was stopped, if any.
func (cl *Connection) StopCause() error {
	if err, ok := cl.State.stopCause.Load().(error); ok {
		return err
	}
	return nil
}

// Closed returns true if the connection has been stopped.
func (cl *Connection) Closed() bool {
	return atomic.LoadInt32(&cl.State.open) == 0
}

// Stats returns the frames and bytes read from and written to the connection.
func (cl *Connection) Stats() (framesIn, framesOut, bytesIn, bytesOut int64) {
	return atomic.LoadInt64(&cl.State.framesIn),
		atomic.LoadInt64(&cl.State.framesOut),
		atomic.LoadInt64(&cl.State.bytesIn),
		atomic.LoadInt64(&cl.State.bytesOut)
}
