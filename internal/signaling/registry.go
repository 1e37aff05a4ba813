package signaling

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrRelayFull = errors.New("signaling: relay full")

	// ErrConnClosed reports a send to a connection already going away; a late
	// send racing with disconnect is benign and callers treat it as silence.
	ErrConnClosed = errors.New("signaling: connection closed")

	// ErrSendQueueFull reports a consumer that has fallen behind its bounded
	// outbound queue.
	ErrSendQueueFull = errors.New("signaling: send queue full")
)

// Conn is the transport-level send/close capability the registry holds per
// client. It is exclusively owned by that client's lifecycle goroutine.
//
// Enqueue must be non-blocking: it returns ErrConnClosed after Kill and
// ErrSendQueueFull when the outbound queue is full, and the caller decides
// what to do about each. Kill initiates teardown and must be idempotent.
type Conn interface {
	Enqueue(env *Envelope) error
	Kill()
}

// ClientSession is one live connection's registry entry.
type ClientSession struct {
	ID   string
	Conn Conn

	// DisplayName starts as a generated placeholder and is overwritten by the
	// first join announcement. Last write wins on re-announcement.
	DisplayName string

	// Identified is set once the client has announced a name. Only identified
	// sessions appear in presence snapshots.
	Identified bool
}

// Registry maps client ids to live sessions.
//
// It is not safe for concurrent use on its own: the signaling Server owns it
// and serializes access together with the pair table, so registry mutation and
// presence snapshots are observed atomically.
type Registry struct {
	maxClients int
	sessions   map[string]*ClientSession
	order      []string // insertion order, for display stability only
}

func NewRegistry(maxClients int) *Registry {
	return &Registry{
		maxClients: maxClients,
		sessions:   make(map[string]*ClientSession),
	}
}

// Register allocates a fresh id and inserts a session with a placeholder name.
// It returns ErrRelayFull when the configured client cap is reached.
func (r *Registry) Register(conn Conn) (*ClientSession, error) {
	if r.maxClients > 0 && len(r.sessions) >= r.maxClients {
		return nil, ErrRelayFull
	}

	id := uuid.NewString()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = uuid.NewString()
	}

	sess := &ClientSession{
		ID:          id,
		Conn:        conn,
		DisplayName: placeholderName(id),
	}
	r.sessions[id] = sess
	r.order = append(r.order, id)
	return sess, nil
}

// SetName overwrites the session's display name. It is a silent no-op when the
// id is absent (a benign race with disconnect) and reports whether a session
// was updated.
func (r *Registry) SetName(id, name string) bool {
	sess, ok := r.sessions[id]
	if !ok {
		return false
	}
	sess.DisplayName = name
	sess.Identified = true
	return true
}

// Unregister removes the session if present and returns it. Unregistering an
// absent id is not an error.
func (r *Registry) Unregister(id string) *ClientSession {
	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sess
}

func (r *Registry) Get(id string) (*ClientSession, bool) {
	sess, ok := r.sessions[id]
	return sess, ok
}

func (r *Registry) Len() int { return len(r.sessions) }

// Snapshot returns the current presence view: every identified session in
// insertion order. Unidentified sessions are registered (they can be routed
// to) but not yet visible to peers.
func (r *Registry) Snapshot() []UserInfo {
	out := make([]UserInfo, 0, len(r.sessions))
	for _, id := range r.order {
		sess := r.sessions[id]
		if sess == nil || !sess.Identified {
			continue
		}
		out = append(out, UserInfo{ID: sess.ID, Name: sess.DisplayName})
	}
	return out
}

func placeholderName(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "guest-" + id
}
