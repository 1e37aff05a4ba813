package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/vireochat/signal-relay/internal/metrics"
	"github.com/vireochat/signal-relay/internal/ratelimit"
)

// Config wires together the runtime dependencies for the signaling relay.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// MaxClients caps concurrent registered clients. <= 0 means unlimited.
	MaxClients int

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// Keepalive. IdleTimeout bounds how long the relay waits for any inbound
	// traffic (including pong replies); PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// SendQueueSize bounds each client's outbound queue. A client whose queue
	// overflows is disconnected rather than allowed to stall others.
	SendQueueSize int

	MaxDisplayNameLength int

	// CheckOrigin overrides the upgrade origin check. Origin policy is normally
	// enforced by the outer httpserver middleware; the default accepts all.
	CheckOrigin func(r *http.Request) bool

	// Clock drives the per-connection rate limiter; nil means wall clock.
	Clock ratelimit.Clock
}

// Server is the signaling relay: it upgrades WebSocket connections, assigns
// each one an identity, and runs the per-connection lifecycle that dispatches
// inbound envelopes to the registry, router and pair tracker.
//
// The registry and pair table are guarded by one mutex so membership changes
// and presence snapshots are observed atomically together.
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu    sync.Mutex
	reg   *Registry
	pairs *pairTable
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
		reg:   NewRegistry(cfg.MaxClients),
		pairs: newPairTable(),
	}
}

// Metrics returns the relay's counter registry.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// ClientCount reports the number of currently registered clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Len()
}

// PairState reports the negotiation state between two clients.
func (s *Server) PairState(a, b string) PairState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairs.State(a, b)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.handleConn(sock)
}

// Close tears down every live connection. New upgrades after Close race with
// shutdown and are torn down by their own lifecycle.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]Conn, 0, s.reg.Len())
	for _, sess := range s.reg.sessions {
		conns = append(conns, sess.Conn)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Kill()
	}
}

// handleConn is the per-connection lifecycle: register, welcome, dispatch
// inbound frames, and tear down on any exit.
func (s *Server) handleConn(sock *websocket.Conn) {
	wsc := newWSConn(sock, s.cfg.SendQueueSize, s.cfg.PingInterval)
	go wsc.writePump()

	s.mu.Lock()
	sess, err := s.reg.Register(wsc)
	if err == nil {
		s.metrics.Inc(metrics.ClientConnected)
		// Welcome carries the client's id and the presence view at the moment of
		// registration, atomically with the registry insert.
		_ = wsc.Enqueue(&Envelope{
			Type:  KindWelcome,
			ID:    sess.ID,
			Users: s.reg.Snapshot(),
		})
	}
	s.mu.Unlock()

	if errors.Is(err, ErrRelayFull) {
		s.metrics.Inc(metrics.DropTooManyClients)
		s.log.Warn("connection rejected", "reason", "relay full")
		wsc.closeWith(websocket.ClosePolicyViolation, "relay full")
		wsc.Kill()
		return
	}

	log := s.log.With("client_id", sess.ID)
	log.Debug("client connected", "remote_addr", sock.RemoteAddr().String())

	defer func() {
		wsc.Kill()
		s.teardown(sess.ID)
		log.Debug("client disconnected")
	}()

	var limiter *ratelimit.TokenBucket
	if s.cfg.MaxMessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(s.cfg.Clock, int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))
	}

	sock.SetReadLimit(s.cfg.MaxMessageBytes)
	if s.cfg.IdleTimeout > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		sock.SetPongHandler(func(string) error {
			return sock.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		})
	}

	for {
		msgType, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		if s.cfg.IdleTimeout > 0 {
			_ = sock.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropRateLimited)
			log.Warn("rate limit exceeded, closing")
			wsc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			// Protocol frames are UTF-8 JSON text. Anything else is malformed and
			// dropped; the connection stays open.
			s.metrics.Inc(metrics.DropMalformedFrame)
			log.Debug("dropped non-text frame")
			continue
		}

		env, err := ParseClientEnvelope(data)
		if err != nil {
			s.metrics.Inc(metrics.DropMalformedFrame)
			log.Debug("dropped malformed frame", "err", err)
			continue
		}
		env.Normalize()

		s.dispatch(sess.ID, &env, log)
	}
}

// dispatch applies one inbound envelope under the state lock.
func (s *Server) dispatch(senderID string, env *Envelope, log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.reg.Get(senderID)
	if !ok {
		// Raced with teardown; nothing to do.
		return
	}

	switch env.Type {
	case KindJoin:
		name := s.cleanName(env.Name)
		if name == "" {
			s.metrics.Inc(metrics.DropMalformedFrame)
			return
		}
		s.reg.SetName(senderID, name)
		log.Info("client identified", "name", sender.DisplayName)
		s.broadcastPresenceLocked()

	case KindHangup:
		if env.To == "" {
			s.endAllPairsLocked(sender, KindHangup)
			return
		}
		s.routeLocked(sender, env, log)

	case KindCallRequest, KindOffer, KindAnswer, KindICECandidate:
		s.routeLocked(sender, env, log)
	}
}

// routeLocked forwards a routed envelope to its recipient, stamping the
// sender's id (and name, where the recipient needs to present caller identity)
// from the relay's own knowledge rather than trusting the sender's claim.
//
// An unknown recipient is a benign race, not a fault: the envelope is dropped
// and the sender is told nothing.
func (s *Server) routeLocked(sender *ClientSession, env *Envelope, log *slog.Logger) {
	recipient, ok := s.reg.Get(env.To)
	if !ok {
		s.metrics.Inc(metrics.DropUnknownRecipient)
		log.Debug("dropped envelope for unknown recipient", "kind", env.Type, "to", env.To)
		return
	}

	out := &Envelope{
		Type:      env.Type,
		From:      sender.ID,
		SDP:       env.SDP,
		Candidate: env.Candidate,
	}

	switch env.Type {
	case KindOffer:
		out.FromName = sender.DisplayName
		created, replaced := s.pairs.Offer(sender.ID, recipient.ID)
		if created {
			s.metrics.Inc(metrics.PairCreated)
		}
		if replaced {
			log.Debug("renegotiation offer replaces prior attempt", "to", recipient.ID)
		}
	case KindCallRequest:
		out.FromName = sender.DisplayName
	case KindAnswer:
		s.pairs.Answer(sender.ID, recipient.ID)
	case KindICECandidate:
		s.pairs.Candidate(sender.ID, recipient.ID)
	case KindHangup:
		if !s.pairs.End(sender.ID, recipient.ID) {
			// No attempt on record: a stale hangup, dropped like any other
			// late message.
			return
		}
		s.metrics.Inc(metrics.PairEnded)
	}

	s.deliverLocked(recipient, out, log)
	s.metrics.Inc(metrics.EnvelopeRouted)
}

// endAllPairsLocked fails every attempt involving the client into Ended and
// notifies each counterpart once. notifyKind is KindHangup for an explicit
// hangup and KindParticipantLeft when the client's session is destroyed.
func (s *Server) endAllPairsLocked(sess *ClientSession, notifyKind Kind) {
	peers := s.pairs.EndAll(sess.ID)
	for _, peerID := range peers {
		s.metrics.Inc(metrics.PairEnded)
		peer, ok := s.reg.Get(peerID)
		if !ok {
			continue
		}
		note := &Envelope{Type: notifyKind}
		if notifyKind == KindParticipantLeft {
			note.ID = sess.ID
		} else {
			note.From = sess.ID
		}
		s.deliverLocked(peer, note, s.log)
	}
}

// deliverLocked enqueues an envelope for one recipient. Delivery is
// fire-and-forget: a closed connection swallows the send, and a full queue
// marks the recipient as too slow and disconnects it without affecting
// anyone else.
func (s *Server) deliverLocked(recipient *ClientSession, env *Envelope, log *slog.Logger) {
	switch err := recipient.Conn.Enqueue(env); {
	case err == nil:
	case errors.Is(err, ErrSendQueueFull):
		s.metrics.Inc(metrics.DropSendQueueFull)
		log.Warn("send queue full, disconnecting slow client", "recipient", recipient.ID)
		// Kill wakes the recipient's own lifecycle goroutine, which runs teardown;
		// doing it here would re-enter the lock.
		recipient.Conn.Kill()
	default:
		// A late send racing with disconnect; the recipient's own teardown owns
		// the cleanup.
	}
}

// broadcastPresenceLocked pushes the current user list to every registered
// connection, including the client that triggered the change so it can
// distinguish itself from peers by id.
func (s *Server) broadcastPresenceLocked() {
	users := s.reg.Snapshot()
	s.metrics.Inc(metrics.PresenceBroadcast)
	for _, sess := range s.reg.sessions {
		s.deliverLocked(sess, &Envelope{Type: KindUserList, Users: users}, s.log)
	}
}

// teardown removes the client and cleans up everything that referenced it:
// open call attempts fail into Ended with a participant-left to each peer, and
// the remaining clients get a fresh presence view.
func (s *Server) teardown(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.reg.Unregister(id)
	if sess == nil {
		return
	}
	s.metrics.Inc(metrics.ClientDisconnected)

	s.endAllPairsLocked(sess, KindParticipantLeft)

	if sess.Identified {
		s.broadcastPresenceLocked()
	}
}

func (s *Server) cleanName(name string) string {
	name = strings.TrimSpace(name)
	if max := s.cfg.MaxDisplayNameLength; max > 0 && len(name) > max {
		// Cut on a rune boundary so the truncated name stays valid UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}
