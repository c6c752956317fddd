package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mira-screenshare/signalserver/internal/metrics"
)

// Role distinguishes a session's media origin from its consumers.
type Role int

const (
	RoleSharer Role = iota
	RoleViewer
)

// Peer is a connection's handle inside the registry: its room membership,
// role, and outbound delivery queue. Peer itself never touches the socket;
// the connection task owns that.
type Peer struct {
	ID     string
	Room   string
	Role   Role
	Outbox *Outbox
}

// Session is a room's aggregate state: who the sharer is, which viewers
// have joined, when it started, and the sharer's remote address (used to
// tear the room down if that socket drops without an explicit leave).
type Session struct {
	Room         string
	SharerPeerID string
	Viewers      map[string]struct{}
	StartedAt    time.Time
	SharerSource string
}

// Registry is the concurrency-safe mapping of peers and sessions described
// by the session registry's invariants. A single mutex guards both maps;
// every exported method takes it for the duration of the call and releases
// it on return. The dispatcher holds no lock of its own, so the ICE broker's
// HTTP round trip runs with the registry mutex released.
type Registry struct {
	mu sync.Mutex

	peers        map[string]*Peer
	sessions     map[string]*Session
	sharerSource map[string]string // source addr -> room
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:        make(map[string]*Peer),
		sessions:     make(map[string]*Session),
		sharerSource: make(map[string]string),
	}
}

// AddSharer creates a session and its sharer peer keyed by room. It fails
// with RoomCollisionError if room is already occupied.
func (r *Registry) AddSharer(room string, outbox *Outbox, sourceAddr string) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[room]; exists {
		return nil, &RoomCollisionError{Room: room}
	}

	session := &Session{
		Room:         room,
		SharerPeerID: room,
		Viewers:      make(map[string]struct{}),
		StartedAt:    time.Now(),
		SharerSource: sourceAddr,
	}
	peer := &Peer{ID: room, Room: room, Role: RoleSharer, Outbox: outbox}

	r.sessions[room] = session
	r.peers[room] = peer
	r.sharerSource[sourceAddr] = room

	metrics.NumOngoingSessions.Inc()
	return peer, nil
}

// AddViewer adds a viewer peer to an existing session. It fails with
// RoomMissingError if room does not exist, or PeerIDCollisionError if
// peerID already names a peer anywhere in the registry.
func (r *Registry) AddViewer(peerID, room string, outbox *Outbox) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[room]
	if !ok {
		return nil, &RoomMissingError{Room: room}
	}
	if _, exists := r.peers[peerID]; exists {
		return nil, &PeerIDCollisionError{PeerID: peerID}
	}

	peer := &Peer{ID: peerID, Room: room, Role: RoleViewer, Outbox: outbox}
	session.Viewers[peerID] = struct{}{}
	r.peers[peerID] = peer

	return peer, nil
}

// Leave removes peerID from the registry. If peerID is a sharer, its whole
// session is torn down (see removeSessionLocked). If it is a viewer, only
// that viewer is removed. Errors with PeerUnknownError if peerID names
// nothing.
func (r *Registry) Leave(peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return &PeerUnknownError{PeerID: peerID}
	}

	if peer.Role == RoleSharer {
		r.removeSessionLocked(peer.Room)
		return nil
	}

	if session, ok := r.sessions[peer.Room]; ok {
		delete(session.Viewers, peerID)
	}
	delete(r.peers, peerID)
	return nil
}

// OnDisconnect tears down the session whose sharer's socket originated
// from sourceAddr, if any. This is the only path that closes a session
// when the sharer's socket drops without sending leave. It is a no-op
// (never errors) when sourceAddr is not a known sharer source, since a
// viewer's socket dropping has nothing registered under this index.
func (r *Registry) OnDisconnect(sourceAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.sharerSource[sourceAddr]
	if !ok {
		return
	}
	r.removeSessionLocked(room)
}

// removeSessionLocked tears down a session: notifies every viewer with
// room_closed, removes all viewer and sharer peers, the sharer-source
// index entry, and the session itself, and records the session's duration.
// Must be called with r.mu held.
func (r *Registry) removeSessionLocked(room string) {
	session, ok := r.sessions[room]
	if !ok {
		return
	}

	metrics.SessionDurationSec.Observe(time.Since(session.StartedAt).Seconds())
	metrics.NumOngoingSessions.Dec()

	for viewerID := range session.Viewers {
		if viewer, ok := r.peers[viewerID]; ok {
			closed := NewRoomClosed(viewerID, room)
			if raw, err := json.Marshal(closed); err == nil {
				// Enqueue failures mean the viewer's socket is already
				// gone; it is leaving anyway, so the error is swallowed.
				_ = viewer.Outbox.Send(raw)
			}
		}
		delete(r.peers, viewerID)
	}

	delete(r.sharerSource, session.SharerSource)
	delete(r.peers, session.SharerPeerID)
	delete(r.sessions, room)
}

// CounterpartsOf returns the peer ids that should be notified of peerID's
// leave before peerID is actually removed: a viewer's sole counterpart is
// its sharer; a sharer's counterparts are every viewer currently in its
// session.
func (r *Registry) CounterpartsOf(peerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return nil, &PeerUnknownError{PeerID: peerID}
	}

	if peer.Role == RoleViewer {
		return []string{peer.Room}, nil
	}

	session, ok := r.sessions[peer.Room]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(session.Viewers))
	for viewerID := range session.Viewers {
		ids = append(ids, viewerID)
	}
	return ids, nil
}

// RoomOf returns the room peerID belongs to, or PeerUnknownError if
// peerID is not in the registry.
func (r *Registry) RoomOf(peerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return "", &PeerUnknownError{PeerID: peerID}
	}
	return peer.Room, nil
}

// HasRoom reports whether room is already occupied by a session.
func (r *Registry) HasRoom(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[room]
	return ok
}

// PeerOutbox returns the outbox for peerID, or PeerUnknownError.
func (r *Registry) PeerOutbox(peerID string) (*Outbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[peerID]
	if !ok {
		return nil, &PeerUnknownError{PeerID: peerID}
	}
	return peer.Outbox, nil
}
