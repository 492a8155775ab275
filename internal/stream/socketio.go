// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Engine.IO v4 / Socket.IO v5 packet prefixes used by the client.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = "3"
	eioMessage = '4'

	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
	sioError      = '4'
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultPingInterval   = 25 * time.Second
	defaultPingTimeout    = 20 * time.Second
	writeTimeout          = time.Second
)

// SocketIO is a minimal Socket.IO client over the websocket transport. It
// only emits events on the default namespace. Connection management runs in
// the background: Emit never waits for a connection and returns
// ErrNotConnected while there is none.
type SocketIO struct {
	wsURL          string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn
	ready   atomic.Bool

	// pending is the raw connection of a handshake in progress; Close
	// closes it so a stalled upgrade or open packet cannot hold shutdown.
	pendingMu sync.Mutex
	pending   net.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// SocketIOOption configures a SocketIO client.
type SocketIOOption func(*SocketIO)

// WithReconnectDelay sets the pause between connection attempts.
func WithReconnectDelay(d time.Duration) SocketIOOption {
	return func(s *SocketIO) { s.reconnectDelay = d }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) SocketIOOption {
	return func(s *SocketIO) { s.dialer = d }
}

// SocketIOURL turns a server address such as "http://host:5555/" into the
// websocket transport endpoint.
func SocketIOURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse socket.io url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket.io scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("socket.io url has no host")
	}
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/socket.io") {
		path += "/socket.io"
	}
	u.Path = path + "/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialSocketIO starts connecting to server in the background and returns
// immediately. Connection failures are logged and retried.
func DialSocketIO(server string, opts ...SocketIOOption) (*SocketIO, error) {
	wsURL, err := SocketIOURL(server)
	if err != nil {
		return nil, err
	}
	s := &SocketIO{
		wsURL:          wsURL,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		closed:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s, nil
}

// Connected reports whether the namespace handshake has completed.
func (s *SocketIO) Connected() bool { return s.ready.Load() }

func (s *SocketIO) run() {
	defer close(s.done)
	for {
		conn, hs, err := s.connect()
		if err != nil {
			log.Printf("socket.io: connect %s failed: %v", s.wsURL, err)
		} else {
			log.Printf("socket.io: connected to %s (sid %s)", s.wsURL, hs.SID)
			s.serve(conn, hs)
			log.Printf("socket.io: disconnected from %s", s.wsURL)
		}

		select {
		case <-s.closed:
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func (h handshake) deadline() time.Duration {
	interval := time.Duration(h.PingInterval) * time.Millisecond
	timeout := time.Duration(h.PingTimeout) * time.Millisecond
	if interval <= 0 {
		interval = defaultPingInterval
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return interval + timeout
}

// dial opens the websocket, tracking the underlying connection until the
// handshake finishes.
func (s *SocketIO) dial() (*websocket.Conn, error) {
	d := *s.dialer
	base := d.NetDialContext
	switch {
	case base != nil:
	case d.NetDial != nil:
		netDial := d.NetDial
		base = func(_ context.Context, network, addr string) (net.Conn, error) {
			return netDial(network, addr)
		}
	default:
		var nd net.Dialer
		base = nd.DialContext
	}
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := base(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		if s.ctx.Err() != nil {
			c.Close()
			return nil, s.ctx.Err()
		}
		s.pending = c
		return c, nil
	}
	conn, _, err := d.DialContext(s.ctx, s.wsURL, nil)
	return conn, err
}

func (s *SocketIO) connect() (*websocket.Conn, handshake, error) {
	var hs handshake
	defer func() {
		s.pendingMu.Lock()
		s.pending = nil
		s.pendingMu.Unlock()
	}()

	conn, err := s.dial()
	if err != nil {
		return nil, hs, err
	}

	fail := func(err error) (*websocket.Conn, handshake, error) {
		conn.Close()
		return nil, hs, err
	}

	conn.SetReadDeadline(time.Now().Add(defaultPingInterval))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("read open packet: %w", err))
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return fail(fmt.Errorf("unexpected open packet %q", msg))
	}
	if err := json.Unmarshal(msg[1:], &hs); err != nil {
		return fail(fmt.Errorf("parse open packet: %w", err))
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return fail(fmt.Errorf("send connect: %w", err))
	}

	// Wait for the namespace acknowledgement, answering pings meanwhile.
	for {
		conn.SetReadDeadline(time.Now().Add(hs.deadline()))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("await connect ack: %w", err))
		}
		switch {
		case len(msg) == 1 && msg[0] == eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(eioPong)); err != nil {
				return fail(err)
			}
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnect:
			return conn, hs, nil
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioError:
			return fail(fmt.Errorf("namespace refused: %s", msg[2:]))
		}
	}
}

// serve owns the read side of conn until it fails or the client closes.
func (s *SocketIO) serve(conn *websocket.Conn, hs handshake) {
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	s.ready.Store(true)

	stop := make(chan struct{})
	go func() {
		select {
		case <-s.closed:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioDisconnect})
			s.writeMu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		s.ready.Store(false)
		s.writeMu.Lock()
		s.conn = nil
		s.writeMu.Unlock()
		close(stop)
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(hs.deadline()))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := s.write([]byte(eioPong)); err != nil {
				return
			}
		case eioClose:
			return
		case eioMessage:
			if len(msg) >= 2 && msg[1] == sioDisconnect {
				return
			}
		}
	}
}

func (s *SocketIO) write(packet []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, packet)
}

// Emit sends event with a single string argument.
func (s *SocketIO) Emit(event, payload string) error {
	if !s.ready.Load() {
		return ErrNotConnected
	}
	args, err := json.Marshal([]string{event, payload})
	if err != nil {
		return err
	}
	packet := make([]byte, 0, len(args)+2)
	packet = append(packet, eioMessage, sioEvent)
	packet = append(packet, args...)
	return s.write(packet)
}

// Close disconnects and stops reconnecting.
func (s *SocketIO) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.pendingMu.Lock()
		if s.pending != nil {
			s.pending.Close()
		}
		s.pendingMu.Unlock()
	})
	<-s.done
	return nil
}
