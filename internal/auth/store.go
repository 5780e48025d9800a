package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aura-webinar/screenrec/internal/models"
)

var (
	ErrNotAuthenticated = errors.New("not logged in or session expired")
	ErrSessionSealed    = errors.New("session file is sealed; set SESSION_PASSPHRASE")
	ErrBadPassphrase    = errors.New("cannot open session file: wrong passphrase")
)

const demoTokenPrefix = "demo_"

// sealed file layout: magic | salt | nonce | ciphertext
var sealMagic = []byte("SRS1")

const (
	saltSize      = 16
	argonTime     = 1
	argonMemoryKB = 64 * 1024
	argonThreads  = 4
)

type storedState struct {
	Token           string       `json:"auth_token,omitempty"`
	User            *models.User `json:"user_data,omitempty"`
	RememberedEmail string       `json:"remembered_email,omitempty"`
}

// Store persists the login session on disk and is the agent's token source.
// With a passphrase the file is sealed with XChaCha20-Poly1305 under an Argon2id key.
type Store struct {
	path       string
	passphrase []byte
	now        func() time.Time

	mu    sync.RWMutex
	state storedState
}

// OpenStore loads the session file at path if it exists.
func OpenStore(path, passphrase string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if passphrase != "" {
		s.passphrase = []byte(passphrase)
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := s.decode(raw); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) decode(raw []byte) error {
	if bytes.HasPrefix(raw, sealMagic) {
		if s.passphrase == nil {
			return ErrSessionSealed
		}
		plain, err := open(raw, s.passphrase)
		if err != nil {
			return err
		}
		raw = plain
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &s.state); err != nil {
		return fmt.Errorf("decode session file: %w", err)
	}
	return nil
}

// Token returns the bearer token of a valid session.
func (s *Store) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return "", ErrNotAuthenticated
	}
	return s.state.Token, nil
}

// Valid reports whether a session is present and unexpired. Demo sessions are always valid.
func (s *Store) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *Store) validLocked() bool {
	tok := s.state.Token
	if tok == "" {
		return false
	}
	if strings.HasPrefix(tok, demoTokenPrefix) && s.state.User != nil && s.state.User.IsDemo {
		return true
	}
	return TokenValid(tok, s.now())
}

// User returns the stored profile.
func (s *Store) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return models.User{}, false
	}
	return *s.state.User, true
}

// UserID returns the stored user id, falling back to the token's user_id or sub claim.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User != nil && s.state.User.ID != "" {
		return s.state.User.ID
	}
	if claims, err := ParseClaims(s.state.Token); err == nil {
		if claims.UserID != "" {
			return claims.UserID
		}
		return claims.Subject
	}
	return ""
}

// Save stores a fresh login.
func (s *Store) Save(sess Session) error {
	user := sess.User
	return s.update(func(st *storedState) {
		st.Token = sess.Token
		st.User = &user
	})
}

// Demo starts a guest session that needs no store account.
func (s *Store) Demo() (Session, error) {
	sess := Session{
		Token: demoTokenPrefix + strconv.FormatInt(s.now().UnixMilli(), 10),
		User: models.User{
			ID:       "demo",
			Email:    "guest@demo.com",
			Username: "Guest User",
			IsDemo:   true,
		},
	}
	if err := s.Save(sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Logout drops the token and profile. The remembered email survives.
func (s *Store) Logout() error {
	return s.update(func(st *storedState) {
		st.Token = ""
		st.User = nil
	})
}

// RememberEmail stores the login email for the next prompt; empty forgets it.
func (s *Store) RememberEmail(email string) error {
	email = strings.TrimSpace(email)
	return s.update(func(st *storedState) { st.RememberedEmail = email })
}

func (s *Store) RememberedEmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RememberedEmail
}

func (s *Store) update(fn func(st *storedState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// write replaces the session file atomically. Caller holds mu.
func (s *Store) write(st storedState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if s.passphrase != nil {
		if raw, err = seal(raw, s.passphrase); err != nil {
			return err
		}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemoryKB, argonThreads, chacha20poly1305.KeySize)
}

func seal(plain, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	out := make([]byte, 0, len(sealMagic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, sealMagic), nil
}

func open(raw, passphrase []byte) ([]byte, error) {
	header := len(sealMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(raw) < header {
		return nil, fmt.Errorf("%w: truncated file", ErrBadPassphrase)
	}
	salt := raw[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := raw[len(sealMagic)+saltSize : header]
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, raw[header:], sealMagic)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}
