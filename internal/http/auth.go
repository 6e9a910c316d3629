package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"

	"github.com/ProtonMail/go-srp"
	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

// ErrTwoFactorUnsupported is returned when the account has two factor authentication enabled
var ErrTwoFactorUnsupported = errors.New("accounts with two factor authentication are not supported")

// ErrServerProof is returned when the server SRP proof does not match
var ErrServerProof = errors.New("invalid server proof, the server could not be authenticated")

// srpBits is the modulus size used by the API
const srpBits = 2048

type authInfoRequest struct {
	Username string `json:"Username"`
}

type authInfoResponse struct {
	Version         int    `json:"Version"`
	Modulus         string `json:"Modulus"`
	ServerEphemeral string `json:"ServerEphemeral"`
	Salt            string `json:"Salt"`
	SRPSession      string `json:"SRPSession"`
}

type authRequest struct {
	Username        string `json:"Username"`
	ClientEphemeral string `json:"ClientEphemeral"`
	ClientProof     string `json:"ClientProof"`
	SRPSession      string `json:"SRPSession"`
}

type authResponse struct {
	AccessToken  string   `json:"AccessToken"`
	RefreshToken string   `json:"RefreshToken"`
	UID          string   `json:"UID"`
	Scopes       []string `json:"Scopes"`
	ServerProof  string   `json:"ServerProof"`
	TwoFA        struct {
		Enabled int `json:"Enabled"`
	} `json:"2FA"`
}

// Authenticate logs in with username and password using SRP
// On success the session holds the new tokens
func (s *Session) Authenticate(ctx context.Context, username string, password string) error {
	var info authInfoResponse
	if err := s.CallJSON(ctx, http.MethodPost, "/auth/info", authInfoRequest{Username: username}, &info); err != nil {
		return err
	}

	a, err := srp.NewAuth(info.Version, username, []byte(password), info.Salt, info.Modulus, info.ServerEphemeral)
	if err != nil {
		return errors.WrapPrefix(err, "failed preparing SRP authentication", 0)
	}
	proofs, err := a.GenerateProofs(srpBits)
	if err != nil {
		return errors.WrapPrefix(err, "failed generating SRP proofs", 0)
	}

	var resp authResponse
	err = s.CallJSON(ctx, http.MethodPost, "/auth", authRequest{
		Username:        username,
		ClientEphemeral: base64.StdEncoding.EncodeToString(proofs.ClientEphemeral),
		ClientProof:     base64.StdEncoding.EncodeToString(proofs.ClientProof),
		SRPSession:      info.SRPSession,
	}, &resp)
	if err != nil {
		return err
	}

	return s.finishAuth(ctx, resp, proofs.ExpectedServerProof)
}

// finishAuth checks the server proof and stores the tokens of a successful /auth
func (s *Session) finishAuth(ctx context.Context, resp authResponse, expectedProof []byte) error {
	serverProof, err := base64.StdEncoding.DecodeString(resp.ServerProof)
	if err != nil || !bytes.Equal(serverProof, expectedProof) {
		return ErrServerProof
	}

	s.mu.Lock()
	s.dump.AccessToken = resp.AccessToken
	s.dump.RefreshToken = resp.RefreshToken
	s.dump.UID = resp.UID
	s.dump.Scopes = resp.Scopes
	s.mu.Unlock()

	if resp.TwoFA.Enabled != 0 {
		// the session is only half authenticated, revoke it
		if lerr := s.Logout(ctx); lerr != nil {
			log.Logger.Debugf("failed revoking two factor session: %v", lerr)
		}
		return ErrTwoFactorUnsupported
	}
	return nil
}
