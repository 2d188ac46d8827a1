// Package hub tracks live sessions and delivers payloads to them. It holds at
// most one session per account identity; the newest registration wins.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=mocks/mock_session.go -package=mocks

var (
	// ErrSendBufferFull is returned by Session.Send when the outbound queue
	// cannot take another frame without blocking.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrSessionClosed is returned by Session.Send after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Session is one live transport channel bound to an identity.
//
// Send must never block: it either queues the payload or fails. Close stops
// accepting payloads, lets already queued ones drain, then terminates the
// transport. Close must be safe to call more than once.
type Session interface {
	Send(payload []byte) error
	Close() error
}

// Registry maps identities to their live session. All methods are safe for
// concurrent use and never block on a slow peer.
type Registry struct {
	sessions map[string]Session
	mutex    sync.RWMutex
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		log:      log,
	}
}

// Register installs session as the active session for identity. A different
// session already registered for identity is removed and closed.
func (r *Registry) Register(identity string, session Session) {
	if session == nil {
		r.log.Warn("received nil session registration; skipping", "user_id", identity)
		return
	}

	r.mutex.Lock()
	prior := r.sessions[identity]
	r.sessions[identity] = session
	count := len(r.sessions)
	r.mutex.Unlock()

	if prior != nil && prior != session {
		r.log.Info("session replaced by newer connection", "user_id", identity)
		r.closeSession(identity, prior)
	}
	r.log.Info("session registered", "user_id", identity, "connections", count)
}

// Unregister removes session if it is still the one registered for identity.
// A stale call from an already replaced session changes nothing. It reports
// whether a session was removed.
func (r *Registry) Unregister(identity string, session Session) bool {
	r.mutex.Lock()
	current, ok := r.sessions[identity]
	if !ok || current != session {
		r.mutex.Unlock()
		return false
	}
	delete(r.sessions, identity)
	count := len(r.sessions)
	r.mutex.Unlock()

	r.log.Info("session unregistered", "user_id", identity, "connections", count)
	return true
}

// Disconnect removes and closes whatever session identity currently has.
func (r *Registry) Disconnect(identity string) bool {
	r.mutex.Lock()
	session, ok := r.sessions[identity]
	if ok {
		delete(r.sessions, identity)
	}
	r.mutex.Unlock()

	if !ok {
		return false
	}
	r.closeSession(identity, session)
	r.log.Info("session disconnected", "user_id", identity)
	return true
}

// Deliver hands payload to identity's session. It returns false when there is
// no live session or the send fails; a failed session is evicted. Delivery is
// best effort and never retried.
func (r *Registry) Deliver(identity string, payload []byte) bool {
	r.mutex.RLock()
	session, ok := r.sessions[identity]
	var err error
	if ok {
		err = safeSend(session, payload)
	}
	r.mutex.RUnlock()

	if !ok {
		return false
	}
	if err != nil {
		r.removeFailedSessions(map[string]failedSend{identity: {session: session, err: err}})
		return false
	}
	return true
}

// Broadcast delivers a payload per identity. Every recipient is attempted
// independently; it returns how many deliveries succeeded.
func (r *Registry) Broadcast(payloads map[string][]byte) int {
	delivered := 0
	failed := make(map[string]failedSend)

	r.mutex.RLock()
	for identity, payload := range payloads {
		session, ok := r.sessions[identity]
		if !ok {
			continue
		}
		if err := safeSend(session, payload); err != nil {
			failed[identity] = failedSend{session: session, err: err}
			continue
		}
		delivered++
	}
	r.mutex.RUnlock()

	r.removeFailedSessions(failed)
	r.log.Debug("broadcast finished", "recipients", len(payloads), "delivered", delivered, "failed", len(failed))
	return delivered
}

// BroadcastAll delivers payload to every live session.
func (r *Registry) BroadcastAll(payload []byte) int {
	delivered := 0
	failed := make(map[string]failedSend)

	r.mutex.RLock()
	for identity, session := range r.sessions {
		if err := safeSend(session, payload); err != nil {
			failed[identity] = failedSend{session: session, err: err}
			continue
		}
		delivered++
	}
	r.mutex.RUnlock()

	r.removeFailedSessions(failed)
	r.log.Debug("broadcast to all finished", "delivered", delivered, "failed", len(failed))
	return delivered
}

// Online reports whether identity has a live session.
func (r *Registry) Online(identity string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.sessions[identity]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// CloseAll removes and closes every session. It is used on shutdown.
func (r *Registry) CloseAll() int {
	r.log.Info("closing all sessions")

	r.mutex.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.mutex.Unlock()

	for identity, session := range sessions {
		r.closeSession(identity, session)
	}

	r.log.Info("closed sessions", "count", len(sessions))
	return len(sessions)
}

type failedSend struct {
	session Session
	err     error
}

// removeFailedSessions evicts sessions whose send failed, unless they have
// already been replaced, and closes them outside the lock.
func (r *Registry) removeFailedSessions(failed map[string]failedSend) {
	if len(failed) == 0 {
		return
	}

	var toClose []string
	r.mutex.Lock()
	for identity, f := range failed {
		if current, ok := r.sessions[identity]; ok && current == f.session {
			delete(r.sessions, identity)
			toClose = append(toClose, identity)
		}
	}
	count := len(r.sessions)
	r.mutex.Unlock()

	for _, identity := range toClose {
		f := failed[identity]
		r.log.Warn("session evicted after failed delivery", "user_id", identity, "error", f.err, "connections", count)
		r.closeSession(identity, f.session)
	}
}

func (r *Registry) closeSession(identity string, session Session) {
	if err := session.Close(); err != nil {
		r.log.Debug("error closing session", "user_id", identity, "error", err)
	}
}

// safeSend converts a panicking transport into an ordinary failure.
func safeSend(session Session, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: recovered from panic in send: %v", ErrSessionClosed, rec)
		}
	}()
	return session.Send(payload)
}
