package client

import (
	"context"
	"strings"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/api"
	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/configurator"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/supervisor"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
	"github.com/protonvpn/protonvpn-nm-core/types/server"
)

// standardExcluded are the features the generic intents never pick
var standardExcluded = []catalog.Feature{catalog.FeatureSecureCore, catalog.FeatureTor}

// ErrNoPrevious is returned when connecting to the previous server without a previous connection
var ErrNoPrevious = errors.New("there is no previous connection")

// Connect connects to the server that the intent describes
// An existing ProtonVPN connection is replaced
func (c *Client) Connect(ctx context.Context, intent server.Intent) (err error) {
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	if !c.session.IsValid() {
		return api.ErrNotLoggedIn
	}
	if err = c.FSM.CheckTransition(StateConnecting); err != nil {
		return err
	}

	settings := c.config.Settings()
	proto := intent.Protocol
	if proto == protocol.Unknown {
		proto = settings.Protocol
	}

	if err = c.checkConnectivity(ctx); err != nil {
		return err
	}
	if err = c.session.UpdateServersIfNeeded(ctx, false); err != nil {
		if c.session.Servers().Empty() {
			return &catalog.MissingCacheError{Path: c.env.Paths.ServerList(), Err: err}
		}
		log.Logger.Warningf("Using the cached server list, refreshing failed: %v", err)
	}
	if err = c.session.UpdateClientConfigIfNeeded(ctx, false); err != nil {
		log.Logger.Warningf("Using the cached ports, refreshing failed: %v", err)
	}

	tier, err := c.session.VPNTier(ctx)
	if err != nil {
		return err
	}
	sel := catalog.NewSelector(c.session.Servers())
	if c.env.Rand != nil {
		sel.Rand = c.env.Rand
	}
	logical, lastProto, err := c.pick(sel, intent, tier)
	if err != nil {
		return err
	}
	if intent.Protocol == protocol.Unknown && lastProto != protocol.Unknown {
		proto = lastProto
	}
	phys, err := sel.Physical(logical)
	if err != nil {
		return err
	}
	log.Logger.Infof("Selected %s (%s) with protocol %s", logical.Name, phys.EntryIP, proto)

	if _, err = c.FSM.GoTransitionWithData(StateConnecting, logical.Name); err != nil {
		return err
	}
	if err = c.connect(ctx, logical, phys, proto, settings); err != nil {
		if _, ferr := c.FSM.GoTransition(StateDisconnected); ferr != nil {
			log.Logger.Debugf("Failed going back to disconnected: %v", ferr)
		}
		return err
	}
	_, err = c.FSM.GoTransitionWithData(StateConnected, logical.Name)
	return err
}

// checkConnectivity probes the internet and the API
// With an active kill switch nothing gets out before the tunnel is up, so the probes are skipped
func (c *Client) checkConnectivity(ctx context.Context) error {
	active, err := c.ks.Active(ctx)
	if err != nil {
		log.Logger.Debugf("Could not determine the kill switch state: %v", err)
	}
	if active {
		log.Logger.Infof("Kill switch is active, skipping the connectivity checks")
		return nil
	}
	return c.checker.Check(ctx)
}

// pick selects the logical server for the intent
// For the previous server it also returns the protocol that was used
func (c *Client) pick(sel *catalog.Selector, intent server.Intent, tier int) (catalog.Logical, protocol.Protocol, error) {
	cat := sel.Catalog
	q := catalog.Query{Tier: tier}
	switch intent.Kind {
	case server.KindFastest:
		q.ExcludeFeatures = standardExcluded
		l, err := sel.Fastest(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindRandom:
		q.ExcludeFeatures = standardExcluded
		l, err := sel.Random(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindCountry:
		if err := util.ValidateCountry(intent.Value); err != nil {
			return catalog.Logical{}, protocol.Unknown, err
		}
		q.Country = strings.ToUpper(intent.Value)
		q.ExcludeFeatures = standardExcluded
		l, err := sel.Fastest(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindSecureCore:
		q.IncludeFeatures = []catalog.Feature{catalog.FeatureSecureCore}
		l, err := sel.Fastest(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindP2P:
		q.IncludeFeatures = []catalog.Feature{catalog.FeatureP2P}
		l, err := sel.Fastest(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindTor:
		q.IncludeFeatures = []catalog.Feature{catalog.FeatureTor}
		l, err := sel.Fastest(cat.Filter(q))
		return l, protocol.Unknown, err
	case server.KindServername:
		if err := util.ValidateServername(intent.Value); err != nil {
			return catalog.Logical{}, protocol.Unknown, err
		}
		l, err := sel.ByName(intent.Value, q)
		return l, protocol.Unknown, err
	case server.KindPrevious:
		last, err := c.meta.Last()
		if err != nil {
			if errors.Is(err, metadata.ErrNoMetadata) {
				return catalog.Logical{}, protocol.Unknown, ErrNoPrevious
			}
			return catalog.Logical{}, protocol.Unknown, err
		}
		l, err := sel.ByName(last.Server, q)
		return l, last.Protocol, err
	default:
		return catalog.Logical{}, protocol.Unknown, errors.Errorf("unknown connect intent: %s", intent.Kind)
	}
}

// connect renders the configuration and hands it to the supervisor
func (c *Client) connect(ctx context.Context, logical catalog.Logical, phys catalog.Physical, proto protocol.Protocol, settings config.Settings) error {
	ports := c.session.VPNPortsUDP()
	if proto == protocol.TCP {
		ports = c.session.VPNPortsTCP()
	}
	c.conf.SplitTunnel = settings.SplitTunnel
	path, err := c.conf.Render(logical.Name, proto, phys, ports)
	if err != nil {
		return err
	}
	user, err := c.session.VPNUsername(ctx)
	if err != nil {
		return err
	}
	pass, err := c.session.VPNPassword(ctx)
	if err != nil {
		return err
	}

	// the agent of the connection that is replaced would reactivate it
	existing, err := c.env.Adapter.FindConnection(ctx, nm.ScopeAll)
	if err != nil {
		return err
	}
	if existing != nil {
		c.stopReconnector(ctx)
	}

	err = c.sup.Setup(ctx, supervisor.ServerData{
		Name:       logical.Name,
		Domain:     phys.Domain,
		EntryIP:    phys.EntryIP,
		ExitIP:     phys.ExitIP,
		Protocol:   proto,
		ConfigPath: path,
	}, supervisor.UserData{
		Username:  configurator.DecorateUsername(user, settings.NetShield, phys),
		Password:  pass,
		DNS:       settings.DNS,
		CustomDNS: settings.CustomDNS,
	})
	if err != nil {
		return err
	}
	if err = c.sup.Connect(ctx); err != nil {
		return err
	}
	log.Logger.Infof("Connected to %s", logical.Name)

	if settings.Reconnect {
		c.startReconnector(ctx)
	}
	return nil
}

func (c *Client) startReconnector(ctx context.Context) {
	if c.env.Reconnector == nil {
		return
	}
	if util.IsCI() {
		log.Logger.Debugf("CI mode, not starting the reconnector")
		return
	}
	if err := c.env.Reconnector.Start(ctx); err != nil {
		log.Logger.Warningf("Failed starting the reconnector: %v", err)
	}
}

func (c *Client) stopReconnector(ctx context.Context) {
	if c.env.Reconnector == nil {
		return
	}
	if err := c.env.Reconnector.Stop(ctx); err != nil {
		log.Logger.Warningf("Failed stopping the reconnector: %v", err)
	}
}

// Disconnect removes the ProtonVPN connection
// In always-on mode the kill switch stays up
func (c *Client) Disconnect(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	return c.disconnect(ctx)
}

func (c *Client) disconnect(ctx context.Context) error {
	// the agent ends itself on the user disconnect, stopping it first avoids a reactivation race
	c.stopReconnector(ctx)
	connected := c.FSM.InState(StateConnected)
	if connected {
		if _, err := c.FSM.GoTransition(StateDisconnecting); err != nil {
			return err
		}
	}
	err := c.sup.Disconnect(ctx)
	if connected || c.FSM.InState(StateDisconnecting) {
		if _, ferr := c.FSM.GoTransition(StateDisconnected); ferr != nil {
			log.Logger.Debugf("Failed going back to disconnected: %v", ferr)
		}
	}
	if err != nil {
		return err
	}
	log.Logger.Infof("Disconnected")
	return nil
}
