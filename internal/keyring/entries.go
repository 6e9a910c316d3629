package keyring

import (
	"github.com/go-errors/errors"
)

const (
	sessionKey  = "proton-sso"
	vpnKey      = "proton-vpn"
	usernameKey = "proton-username"
)

// SessionEntry is the serialized API session
type SessionEntry struct {
	// Blob is the opaque session dump of the HTTP session wrapper
	Blob []byte `json:"blob"`
}

// OVPNEntry holds the VPN credentials and the user tier
type OVPNEntry struct {
	Username string `json:"vpn_user"`
	Password string `json:"vpn_pass"`
	Tier     int    `json:"tier"`
}

// Validate checks that the credentials are complete
func (e OVPNEntry) Validate() error {
	if e.Username == "" || e.Password == "" {
		return errors.New("incomplete VPN credentials")
	}
	if e.Tier < 0 {
		return errors.Errorf("invalid tier: %d", e.Tier)
	}
	return nil
}

// ProtonUserEntry is the account name
type ProtonUserEntry struct {
	Username string `json:"proton_username"`
}

// Session loads the session entry
func (a *Adapter) Session() (*SessionEntry, error) {
	var e SessionEntry
	if err := a.load(sessionKey, &e); err != nil {
		return nil, err
	}
	if len(e.Blob) == 0 {
		return nil, &CorruptEntryError{Key: sessionKey, Err: errors.New("empty session")}
	}
	return &e, nil
}

// StoreSession stores the session entry
func (a *Adapter) StoreSession(e SessionEntry) error {
	return a.store(sessionKey, e)
}

// OVPN loads the VPN credentials
func (a *Adapter) OVPN() (*OVPNEntry, error) {
	var e OVPNEntry
	if err := a.load(vpnKey, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, &CorruptEntryError{Key: vpnKey, Err: err}
	}
	return &e, nil
}

// StoreOVPN stores the VPN credentials
func (a *Adapter) StoreOVPN(e OVPNEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return a.store(vpnKey, e)
}

// DeleteOVPN removes the VPN credentials
func (a *Adapter) DeleteOVPN() error {
	return a.remove(vpnKey)
}

// ProtonUser loads the account name
func (a *Adapter) ProtonUser() (*ProtonUserEntry, error) {
	var e ProtonUserEntry
	if err := a.load(usernameKey, &e); err != nil {
		return nil, err
	}
	if e.Username == "" {
		return nil, &CorruptEntryError{Key: usernameKey, Err: errors.New("empty username")}
	}
	return &e, nil
}

// StoreProtonUser stores the account name
func (a *Adapter) StoreProtonUser(e ProtonUserEntry) error {
	return a.store(usernameKey, e)
}

// DeleteAll removes every entry, missing entries are ignored
func (a *Adapter) DeleteAll() error {
	var first error
	for _, k := range []string{sessionKey, vpnKey, usernameKey} {
		if err := a.remove(k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ErrSessionMissing is returned by Consistent when no usable session is stored
var ErrSessionMissing = errors.New("no session stored in the keyring")

// Consistent loads the session and account name
// If either one is missing the session is absent and all remaining entries are deleted
func (a *Adapter) Consistent() (*SessionEntry, *ProtonUserEntry, error) {
	sess, serr := a.Session()
	user, uerr := a.ProtonUser()
	if serr == nil && uerr == nil {
		return sess, user, nil
	}
	if err := a.DeleteAll(); err != nil {
		return nil, nil, err
	}
	// a corrupt entry is reported as such so the caller can tell the user
	var corrupt *CorruptEntryError
	if errors.As(serr, &corrupt) || errors.As(uerr, &corrupt) {
		return nil, nil, corrupt
	}
	return nil, nil, ErrSessionMissing
}
