package client

import (
	"context"
	"strings"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/types/server"
)

// Status returns the state of the ProtonVPN connection
// A missing connection is not an error, Connected is false then
func (c *Client) Status(ctx context.Context) (_ server.Status, err error) {
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	st := server.Status{Killswitch: c.killswitchMode().String()}
	conn, err := c.env.Adapter.FindConnection(ctx, nm.ScopeActive)
	if err != nil {
		return st, err
	}
	if conn == nil {
		return st, nil
	}
	st.Connected = true
	st.Server = strings.TrimPrefix(conn.ID, nm.IDPrefix)

	cur, err := c.meta.Current()
	switch {
	case err == nil:
		st.Server = cur.Server
		st.Protocol = cur.Protocol
		st.ConnectedAt = cur.ConnectedAt()
		st.ExitIP = cur.DisplayIP
	case errors.Is(err, metadata.ErrNoMetadata):
		log.Logger.Infof("No metadata for the active connection %s", conn.ID)
	default:
		log.Logger.Warningf("Failed reading the connection metadata: %v", err)
	}

	if c.session.IsValid() {
		// the loads are refreshed when due, the tunnel is up so the API is reachable
		if uerr := c.session.UpdateServersIfNeeded(ctx, false); uerr != nil {
			log.Logger.Warningf("Showing the cached server loads: %v", uerr)
		}
	}
	if l, ok := c.session.Servers().Find(st.Server); ok {
		st.Country = catalog.CountryName(l.ExitCountry)
		st.City = l.City
		st.Load = l.Load
		st.Features = l.Features.Names()
	}
	return st, nil
}
