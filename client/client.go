// Package client is the Go client for the signaling relay: it dials the
// relay's WebSocket endpoint, performs the welcome handshake, and dispatches
// inbound envelopes to per-kind handlers.
//
// The client carries no media stack. SDP and ICE payloads pass through as
// json.RawMessage, so any WebRTC engine can sit on top of it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vireochat/signal-relay/internal/signaling"
)

// ErrClosed is returned by operations on a client whose connection is gone,
// whether by Close or by the relay dropping it.
var ErrClosed = errors.New("client: connection closed")

const (
	defaultHandshakeTimeout = 5 * time.Second
	writeWait               = 5 * time.Second
)

// Handlers receives inbound envelopes. All callbacks run on the client's
// single read loop goroutine, so they are serialized; a nil callback drops
// that kind. Handlers must not block, or they stall the read loop and the
// relay will eventually disconnect the client as a slow consumer.
type Handlers struct {
	// OnPresence receives every user-list broadcast, own entry included.
	OnPresence func(users []signaling.UserInfo)

	// OnCallRequest fires when a peer rings this client, before any offer.
	OnCallRequest func(from, fromName string)

	OnOffer     func(from, fromName string, sdp json.RawMessage)
	OnAnswer    func(from string, sdp json.RawMessage)
	OnCandidate func(from string, candidate json.RawMessage)

	// OnHangup fires when a call peer ends the call explicitly.
	OnHangup func(from string)

	// OnPeerLeft fires at most once per call peer when that peer's session is
	// destroyed mid-call.
	OnPeerLeft func(id string)
}

// Options configures Dial.
type Options struct {
	Logger           *slog.Logger
	Handlers         Handlers
	HandshakeTimeout time.Duration
}

// Client is one connection to the relay. Its identity is assigned by the
// relay during the welcome handshake and is fixed for the connection's life;
// reconnecting yields a new Client with a new id.
type Client struct {
	log      *slog.Logger
	handlers Handlers
	ws       *websocket.Conn

	id string

	writeMu sync.Mutex

	mu     sync.Mutex
	users  []signaling.UserInfo
	peers  map[string]bool
	closed bool
	err    error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at url (a ws:// or wss:// endpoint), waits for
// the welcome, and starts the dispatch loop. The returned client already
// knows its id and the presence view at registration time; Join must still
// be called before peers can see it.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("client: read welcome: %w", err)
	}
	var welcome signaling.Envelope
	if err := json.Unmarshal(data, &welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("client: decode welcome: %w", err)
	}
	if welcome.Type != signaling.KindWelcome || welcome.ID == "" {
		ws.Close()
		return nil, fmt.Errorf("client: unexpected handshake frame %q", welcome.Type)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Client{
		log:      log.With("client_id", welcome.ID),
		handlers: opts.Handlers,
		ws:       ws,
		id:       welcome.ID,
		users:    welcome.Users,
		peers:    make(map[string]bool),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ID is the identity the relay assigned to this connection.
func (c *Client) ID() string { return c.id }

// Users returns the most recent presence view.
func (c *Client) Users() []signaling.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]signaling.UserInfo, len(c.users))
	copy(out, c.users)
	return out
}

// Done is closed when the connection is gone; Err then reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports the terminal error, nil before Done and after a clean Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Join announces the display name, making this client visible in presence.
func (c *Client) Join(name string) error {
	return c.send(&signaling.Envelope{Type: signaling.KindJoin, Name: name})
}

// Call rings a peer ahead of the offer exchange.
func (c *Client) Call(to string) error {
	c.trackPeer(to)
	return c.send(&signaling.Envelope{Type: signaling.KindCallRequest, To: to})
}

// SendOffer forwards a session description to a peer. The payload is opaque
// to the relay and arrives byte-for-byte.
func (c *Client) SendOffer(to string, sdp json.RawMessage) error {
	c.trackPeer(to)
	return c.send(&signaling.Envelope{Type: signaling.KindOffer, To: to, SDP: sdp})
}

func (c *Client) SendAnswer(to string, sdp json.RawMessage) error {
	c.trackPeer(to)
	return c.send(&signaling.Envelope{Type: signaling.KindAnswer, To: to, SDP: sdp})
}

func (c *Client) SendCandidate(to string, candidate json.RawMessage) error {
	return c.send(&signaling.Envelope{Type: signaling.KindICECandidate, To: to, Candidate: candidate})
}

// Hangup ends the call with one peer; an empty id ends every call this
// client is part of.
func (c *Client) Hangup(to string) error {
	c.mu.Lock()
	if to == "" {
		c.peers = make(map[string]bool)
	} else {
		delete(c.peers, to)
	}
	c.mu.Unlock()
	return c.send(&signaling.Envelope{Type: signaling.KindHangup, To: to})
}

// Close shuts the connection down cleanly and waits for the dispatch loop
// to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.ws.Close()
	})
	<-c.done
	return nil
}

func (c *Client) send(env *signaling.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", env.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client: send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) trackPeer(id string) {
	c.mu.Lock()
	c.peers[id] = true
	c.mu.Unlock()
}

// readLoop is the dispatch loop: one goroutine owns all reads and all
// handler invocations.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.ws.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = fmt.Errorf("client: read: %w", err)
				c.closed = true
			}
			c.mu.Unlock()
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("dropping undecodable frame", "err", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *signaling.Envelope) {
	switch env.Type {
	case signaling.KindUserList:
		c.mu.Lock()
		c.users = env.Users
		c.mu.Unlock()
		if c.handlers.OnPresence != nil {
			c.handlers.OnPresence(env.Users)
		}

	case signaling.KindCallRequest:
		c.trackPeer(env.From)
		if c.handlers.OnCallRequest != nil {
			c.handlers.OnCallRequest(env.From, env.FromName)
		}

	case signaling.KindOffer:
		c.trackPeer(env.From)
		if c.handlers.OnOffer != nil {
			c.handlers.OnOffer(env.From, env.FromName, env.SDP)
		}

	case signaling.KindAnswer:
		c.trackPeer(env.From)
		if c.handlers.OnAnswer != nil {
			c.handlers.OnAnswer(env.From, env.SDP)
		}

	case signaling.KindICECandidate:
		if c.handlers.OnCandidate != nil {
			c.handlers.OnCandidate(env.From, env.Candidate)
		}

	case signaling.KindHangup:
		c.mu.Lock()
		delete(c.peers, env.From)
		c.mu.Unlock()
		if c.handlers.OnHangup != nil {
			c.handlers.OnHangup(env.From)
		}

	case signaling.KindParticipantLeft:
		c.mu.Lock()
		wasPeer := c.peers[env.ID]
		delete(c.peers, env.ID)
		c.mu.Unlock()
		if wasPeer && c.handlers.OnPeerLeft != nil {
			c.handlers.OnPeerLeft(env.ID)
		}

	default:
		c.log.Debug("ignoring unhandled kind", "kind", env.Type)
	}
}
