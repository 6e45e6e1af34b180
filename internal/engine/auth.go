package engine

import (
	"bytes"
	"crypto/rand"

	"github.com/bumbelbee777/astraldb/internal/codec"
)

// FineGrainedPermission scopes a grant down to a single (table, row, column)
// coordinate. Stored on the user record; coarse ACL checks remain the
// authorization fast path.
type FineGrainedPermission struct {
	Table  string
	RowID  int
	Column string
	Perms  Permissions
}

// User is an authenticatable principal. The password field holds the
// XChaCha20-encrypted BLAKE3 verifier, never the plaintext.
type User struct {
	Name              string
	EncryptedPassword []byte
	FineGrained       []FineGrainedPermission
}

const saltSize = 32

// authState owns the three salts and the cipher material derived from them.
// It lives on the engine; nothing here is process-global.
type authState struct {
	deviceSalt   []byte
	instanceSalt []byte
	sessionSalt  []byte
	key          [codec.KeySize]byte
	nonce        [codec.NonceSize]byte
}

func newAuthState() *authState {
	a := &authState{
		deviceSalt:   bytes.Repeat([]byte{0xA1}, saltSize),
		instanceSalt: bytes.Repeat([]byte{0xB2}, saltSize),
	}
	a.regenerateSessionSalt()
	return a
}

// rederive refreshes the cipher key and nonce from the current salts. The key
// XORs the device and instance salts; the nonce XORs the session salt with
// 0xC3.
func (a *authState) rederive() {
	for i := range a.key {
		a.key[i] = a.deviceSalt[i%len(a.deviceSalt)] ^ a.instanceSalt[i%len(a.instanceSalt)]
	}
	for i := range a.nonce {
		a.nonce[i] = a.sessionSalt[i%len(a.sessionSalt)] ^ 0xC3
	}
}

func (a *authState) regenerateSessionSalt() {
	a.sessionSalt = make([]byte, saltSize)
	_, _ = rand.Read(a.sessionSalt)
	a.rederive()
}

func (a *authState) combinedSalt() []byte {
	combined := make([]byte, 0, len(a.deviceSalt)+len(a.instanceSalt)+len(a.sessionSalt))
	combined = append(combined, a.deviceSalt...)
	combined = append(combined, a.instanceSalt...)
	combined = append(combined, a.sessionSalt...)
	return combined
}

// deriveVerifier computes the stored password form:
// encrypt(BLAKE3(BLAKE3(password) || combined_salts)).
func (a *authState) deriveVerifier(password string) []byte {
	h1 := codec.Hash([]byte(password))
	salted := append(h1[:], a.combinedSalt()...)
	h2 := codec.Hash(salted)
	out, err := codec.Apply(a.key, a.nonce, h2[:])
	if err != nil {
		// Key and nonce sizes are fixed at compile time; Apply cannot fail.
		panic(err)
	}
	return out
}

// newUser builds a user whose verifier is derived under the current salts.
func (a *authState) newUser(name, password string) *User {
	return &User{Name: name, EncryptedPassword: a.deriveVerifier(password)}
}

func (a *authState) verify(u *User, password string) bool {
	return bytes.Equal(u.EncryptedPassword, a.deriveVerifier(password))
}

// AddUser registers a user with a verifier derived under the current salts.
func (e *Engine) AddUser(name, password string) *User {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.auth.newUser(name, password)
	e.users = append(e.users, u)
	return u
}

// AuthenticateUser scans the user list and, on a verifier match, installs the
// user as the session user. On failure the session user is unchanged.
func (e *Engine) AuthenticateUser(name, password string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.users {
		if u.Name == name && e.auth.verify(u, password) {
			e.currentUser = u
			return true
		}
	}
	return false
}

// Logout clears the session user.
func (e *Engine) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentUser = nil
}

// IsAuthenticated reports whether a session user is installed.
func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUser != nil && e.currentUser.Name != ""
}

// CurrentUser returns the session user, or nil.
func (e *Engine) CurrentUser() *User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUser
}

// RegenerateSessionSalt rotates the session salt. Every stored verifier was
// derived under the old salt and will no longer match.
func (e *Engine) RegenerateSessionSalt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth.regenerateSessionSalt()
}
