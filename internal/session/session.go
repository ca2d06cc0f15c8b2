// Package session holds the decrypted private key of one authenticated
// login for the duration of a request. Nothing here is ever persisted.
package session

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/google/uuid"
)

// InitState records how far key initialisation got for this session.
type InitState int

const (
	NotInitialized InitState = iota
	InitExecuted
	InitSuccessful
)

func (s InitState) String() string {
	switch s {
	case InitExecuted:
		return "INIT_EXECUTED"
	case InitSuccessful:
		return "INIT_SUCCESSFUL"
	default:
		return "NOT_INITIALIZED"
	}
}

// Session is safe for concurrent use by the goroutines of one request.
type Session struct {
	mu         sync.Mutex
	id         string
	uid        string
	privateKey []byte
	state      InitState
}

// New returns an empty session with a fresh random id.
func New() *Session {
	return &Session{id: uuid.NewString()}
}

// ID identifies the session in logs. It is not a secret.
func (s *Session) ID() string {
	return s.id
}

// SetPrivateKey stores a copy of key for uid. Any previous key is wiped.
func (s *Session) SetPrivateKey(uid string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.privateKey)
	s.uid = uid
	s.privateKey = bytes.Clone(key)
}

// PrivateKey returns a copy of the cached key of uid. The caller should wipe
// it when done.
func (s *Session) PrivateKey(uid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.privateKey) == 0 || s.uid != uid {
		return nil, fmt.Errorf("private key of %s not in session: %w", uid, common.ErrKeyNotFound)
	}
	return bytes.Clone(s.privateKey), nil
}

func (s *Session) IsPrivateKeySet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.privateKey) > 0
}

func (s *Session) SetStatus(st InitState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) Status() InitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Clear wipes the cached key and resets the init state. Call it when the
// request or login ends.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.privateKey)
	s.privateKey = nil
	s.uid = ""
	s.state = NotInitialized
}
