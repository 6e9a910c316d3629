package client

import (
	"fmt"
	"strings"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/i18nerr"
	"github.com/protonvpn/protonvpn-nm-core/internal/api"
	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/connectivity"
	httpw "github.com/protonvpn/protonvpn-nm-core/internal/http"
	"github.com/protonvpn/protonvpn-nm-core/internal/keyring"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/supervisor"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// ErrAlreadyLoggedIn is returned by Login when a session exists
var ErrAlreadyLoggedIn = errors.New("already logged in")

func (c *Client) logError(err error) {
	// Logs the error with the same level/verbosity as the error
	var ge *errors.Error
	if c.Debug && errors.As(err, &ge) {
		log.Logger.Inherit(err, fmt.Sprintf("\nwith stacktrace: %s\n", ge.ErrorStack()))
		return
	}
	log.Logger.Inherit(err, "")
}

// userError maps an internal error to the message that is shown to the user
// The internal error stays reachable through errors.As
func userError(err error) error {
	if err == nil {
		return nil
	}
	var (
		ie       *i18nerr.Error
		authErr  *httpw.AuthError
		rateErr  *httpw.RateLimitError
		unavErr  *httpw.UnavailableError
		toErr    *httpw.TimeoutError
		unhErr   *httpw.UnhandledAPIError
		apiErr   *httpw.APIError
		connErr  *connectivity.ConnectivityError
		nameErr  *util.IllegalServernameError
		ipErr    *util.InvalidIPError
		ccErr    *util.InvalidCountryError
		protoErr *protocol.InvalidProtocolError
		nfErr    *catalog.ServerNotFoundError
		emptyErr *catalog.EmptyServerListError
		cacheErr *catalog.MissingCacheError
		impErr   *supervisor.ImportConnectionError
		startErr *supervisor.StartConnectionFinishError
		leakErr  *killswitch.LeakProtectionError
		postErr  *killswitch.PostureError
		checkErr *killswitch.AvailableConnectivityCheckError
		corrupt  *keyring.CorruptEntryError
		dnsErr   *config.TooManyDNSError
	)
	switch {
	case errors.As(err, &ie):
		return ie
	case errors.Is(err, api.ErrNotLoggedIn):
		return i18nerr.Explainf(err, "You are not logged in, log in first with: protonvpn login")
	case errors.Is(err, ErrNoPrevious):
		return i18nerr.Explainf(err, "There is no previous connection to reconnect to")
	case errors.Is(err, ErrAlreadyLoggedIn):
		return i18nerr.Explainf(err, "You are already logged in, log out first with: protonvpn logout")
	case errors.Is(err, httpw.ErrTwoFactorUnsupported):
		return i18nerr.Explainf(err, "Accounts with two-factor authentication are not supported")
	case errors.Is(err, httpw.ErrServerProof):
		return i18nerr.Explainf(err, "The Proton VPN API could not be authenticated, the connection may be intercepted")
	case errors.Is(err, httpw.ErrSessionCorrupt), errors.As(err, &corrupt):
		return i18nerr.Explainf(err, "The stored session is corrupt, log in again")
	case errors.As(err, &authErr):
		return i18nerr.Explainf(err, "Wrong username or password")
	case errors.As(err, &connErr):
		if connErr.Kind == connectivity.KindAPI {
			return i18nerr.Explainf(err, "Could not reach the Proton VPN API, check your network or try again later")
		}
		return i18nerr.Explainf(err, "No internet connection found, check your network")
	case errors.As(err, &rateErr):
		return i18nerr.Explainf(err, "Too many requests to the Proton VPN API, try again later")
	case errors.As(err, &unavErr), errors.As(err, &toErr):
		return i18nerr.Wrap(err, "The Proton VPN API is currently unavailable")
	case errors.As(err, &unhErr), errors.As(err, &apiErr):
		return i18nerr.Wrap(err, "The Proton VPN API returned an error")
	case errors.As(err, &nameErr):
		return i18nerr.Explainf(err, "Invalid servername: '%s'", nameErr.Name)
	case errors.As(err, &dnsErr):
		return i18nerr.Explainf(err, "At most %d custom DNS servers are supported", config.MaxCustomDNS)
	case errors.As(err, &ipErr), errors.As(err, &ccErr), errors.As(err, &protoErr):
		return i18nerr.Wrap(err, "Invalid input")
	case errors.As(err, &nfErr):
		if len(nfErr.Suggestions) > 0 {
			return i18nerr.Explainf(err, "Server '%s' was not found, did you mean: %s", nfErr.Name, strings.Join(nfErr.Suggestions, ", "))
		}
		return i18nerr.Explainf(err, "Server '%s' was not found", nfErr.Name)
	case errors.As(err, &emptyErr):
		return i18nerr.Wrap(err, "No server is available")
	case errors.As(err, &cacheErr):
		return i18nerr.Explainf(err, "The server list is not available, connect to the internet and try again")
	case errors.Is(err, supervisor.ErrConnectionMissing):
		return i18nerr.Explainf(err, "No Proton VPN connection was found")
	case errors.As(err, &impErr):
		return i18nerr.Wrap(err, "Failed to import the connection into NetworkManager")
	case errors.As(err, &checkErr):
		return i18nerr.Explainf(err, "The NetworkManager connectivity check cannot be disabled, it conflicts with the kill switch")
	case errors.As(err, &leakErr), errors.As(err, &postErr):
		return i18nerr.Wrap(err, "Failed to set up leak protection")
	case errors.As(err, &startErr):
		return i18nerr.Wrap(err, "Failed to connect")
	default:
		return i18nerr.WrapInternal(err, "An internal error occurred")
	}
}
