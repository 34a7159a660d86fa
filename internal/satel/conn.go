package satel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/daemonp/satel2mqtt/internal/log"
)

// DefaultPort is the ETHM-1 Plus integration port.
const DefaultPort = 7094

const (
	dialTimeout      = 10 * time.Second
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 5 * time.Second
	defaultHeartbeat = 30 * time.Second
	eventBuffer      = 100
)

var (
	ErrBusy       = errors.New("satel: a command is already in flight")
	ErrClosed     = errors.New("satel: connection closed")
	ErrNoResponse = errors.New("satel: no response from panel (check the integration key)")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshake
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshake:
		return "Handshake"
	case StateReady:
		return "Ready"
	default:
		return fmt.Sprintf("Unknown State(%d)", int(s))
	}
}

type sendResult struct {
	reply Reply
	err   error
}

type pendingReply struct {
	op byte
	ch chan sendResult
}

// Conn owns one TCP session with the panel. It runs a single read loop
// that feeds the streaming frame decoder and routes each decoded frame
// either to the caller awaiting a command reply or to the unsolicited
// event channel. The protocol is half-duplex: one command in flight.
type Conn struct {
	log       *log.Logger
	sock      net.Conn
	cipher    *Cipher
	heartbeat time.Duration
	dec       Decoder

	mu     sync.Mutex
	state  State
	pend   *pendingReply
	reason error

	// wmu serializes encrypt+write so the cipher's send counter matches
	// the order frames hit the wire.
	wmu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	events    chan Reply
}

// Dial opens a session: TCP connect with a bounded timeout, then the
// encrypted handshake when an integration key is configured. The cipher
// is owned by the returned Conn and must be freshly created per session.
func Dial(ctx context.Context, host string, port int, cipher *Cipher, logger *log.Logger, heartbeat time.Duration) (*Conn, error) {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	sock, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("satel: connect: %w", err)
	}

	c := &Conn{
		log:       logger,
		sock:      sock,
		cipher:    cipher,
		heartbeat: heartbeat,
		state:     StateConnecting,
		closed:    make(chan struct{}),
		events:    make(chan Reply, eventBuffer),
	}

	if cipher.Active() {
		c.state = StateHandshake
		if err := c.handshake(); err != nil {
			sock.Close()
			return nil, err
		}
	}

	c.state = StateReady
	go c.readLoop()
	return c, nil
}

// handshake sends a new-data probe and waits for any valid reply, proving
// the panel accepts our key and synchronizing the counters. A silent panel
// is the documented symptom of a wrong integration key.
func (c *Conn) handshake() error {
	if err := c.writeCommand(ProbeCommand()); err != nil {
		return err
	}

	deadline := time.Now().Add(handshakeTimeout)
	buf := make([]byte, 512)
	for {
		c.sock.SetReadDeadline(deadline)
		n, err := c.sock.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return ErrNoResponse
			}
			return fmt.Errorf("satel: handshake read: %w", err)
		}
		c.dec.Feed(buf[:n])
		for {
			f, derr := c.dec.Next()
			if derr != nil {
				c.log.Warn("Dropping bad frame during handshake: %v", derr)
				continue
			}
			if f == nil {
				break
			}
			if _, cerr := c.cipher.Decrypt(f.Payload); cerr != nil {
				return cerr
			}
			c.sock.SetReadDeadline(time.Time{})
			return nil
		}
	}
}

// Send transmits one command and waits for its reply. A second Send while
// one is pending fails with ErrBusy. Cancelling the context abandons the
// wait; teardown resolves the wait with ErrClosed.
func (c *Conn) Send(ctx context.Context, cmd Command) (Reply, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return Reply{}, ErrClosed
	}
	if c.pend != nil {
		c.mu.Unlock()
		return Reply{}, ErrBusy
	}
	p := &pendingReply{op: cmd.Op, ch: make(chan sendResult, 1)}
	c.pend = p
	c.mu.Unlock()

	if err := c.writeCommand(cmd); err != nil {
		c.clearPending(p)
		c.teardown(err)
		return Reply{}, ErrClosed
	}

	select {
	case r := <-p.ch:
		return r.reply, r.err
	case <-ctx.Done():
		c.clearPending(p)
		return Reply{}, ctx.Err()
	case <-c.closed:
		return Reply{}, ErrClosed
	}
}

// Events delivers unsolicited frames in decode order. The channel closes
// when the session ends.
func (c *Conn) Events() <-chan Reply {
	return c.events
}

// Done is closed when the session ends for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason reports why the session ended.
func (c *Conn) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conn) Close() {
	c.teardown(ErrClosed)
}

func (c *Conn) writeCommand(cmd Command) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	frame := EncodeFrame(c.cipher.Encrypt(cmd.encode()))
	c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.sock.Write(frame); err != nil {
		return fmt.Errorf("satel: write: %w", err)
	}
	return nil
}

func (c *Conn) clearPending(p *pendingReply) {
	c.mu.Lock()
	if c.pend == p {
		c.pend = nil
	}
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer close(c.events)
	buf := make([]byte, 1024)
	probed := false
	// The watchdog deadline advances only when a frame actually decodes:
	// a peer trickling garbage bytes is as dead as a silent one.
	deadline := time.Now().Add(c.heartbeat)
	for {
		c.sock.SetReadDeadline(deadline)
		n, err := c.sock.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if probed {
					c.teardown(ErrNoResponse)
					return
				}
				probed = true
				if perr := c.probe(); perr != nil {
					c.teardown(perr)
					return
				}
				deadline = time.Now().Add(c.heartbeat)
				continue
			}
			c.teardown(fmt.Errorf("satel: read: %w", err))
			return
		}

		c.dec.Feed(buf[:n])
		for {
			f, derr := c.dec.Next()
			if derr != nil {
				c.log.Warn("Dropping bad frame: %v", derr)
				continue
			}
			if f == nil {
				break
			}
			pt, cerr := c.cipher.Decrypt(f.Payload)
			if cerr != nil {
				c.teardown(cerr)
				return
			}
			probed = false
			deadline = time.Now().Add(c.heartbeat)
			if len(pt) == 0 {
				continue
			}
			c.dispatch(Reply{Op: pt[0], Payload: append([]byte(nil), pt[1:]...)})
		}
	}
}

// probe sends a keep-alive when the watchdog window elapses with no
// traffic. If a command reply is already overdue the probe is skipped:
// the missing reply counts as the first strike.
func (c *Conn) probe() error {
	c.mu.Lock()
	busy := c.pend != nil
	c.mu.Unlock()
	if busy {
		return nil
	}
	c.log.Debug("No traffic within %s, sending keep-alive probe", c.heartbeat)
	return c.writeCommand(ProbeCommand())
}

func (c *Conn) dispatch(r Reply) {
	c.mu.Lock()
	p := c.pend
	if p != nil && (r.Op == p.op || r.Op == CmdResult) {
		c.pend = nil
		c.mu.Unlock()
		p.ch <- sendResult{reply: r}
		return
	}
	c.mu.Unlock()

	select {
	case c.events <- r:
	default:
		c.log.Warn("Unsolicited frame buffer full, dropping opcode 0x%02X", r.Op)
	}
}

func (c *Conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.reason = err
		p := c.pend
		c.pend = nil
		c.mu.Unlock()
		if p != nil {
			p.ch <- sendResult{err: ErrClosed}
		}
		close(c.closed)
		c.sock.Close()
	})
}
