package main

import (
	"strings"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
	"github.com/protonvpn/protonvpn-nm-core/types/server"
)

// connectFlags are the selectors of the connect command, at most one may be set
type connectFlags struct {
	fastest    bool
	random     bool
	country    string
	secureCore bool
	p2p        bool
	tor        bool
	previous   bool
	protocol   string
}

// ErrSelectors is returned when more than one server selector is given
var ErrSelectors = errors.New("only one of the servername, -f, -r, --cc, --sc, --p2p, --tor and --previous can be given")

// intent turns the flags and the optional servername into a connect intent
// Without a selector the fastest server is used
func (f connectFlags) intent(args []string) (server.Intent, error) {
	var in server.Intent
	n := 0
	set := func(k server.Kind, v string) {
		n++
		in.Kind = k
		in.Value = v
	}
	if len(args) > 0 {
		set(server.KindServername, strings.ToUpper(args[0]))
	}
	if f.fastest {
		set(server.KindFastest, "")
	}
	if f.random {
		set(server.KindRandom, "")
	}
	if f.country != "" {
		set(server.KindCountry, strings.ToUpper(f.country))
	}
	if f.secureCore {
		set(server.KindSecureCore, "")
	}
	if f.p2p {
		set(server.KindP2P, "")
	}
	if f.tor {
		set(server.KindTor, "")
	}
	if f.previous {
		set(server.KindPrevious, "")
	}
	if n > 1 {
		return server.Intent{}, ErrSelectors
	}
	if n == 0 {
		in.Kind = server.KindFastest
	}
	if f.protocol != "" {
		p, err := protocol.Parse(strings.ToLower(f.protocol))
		if err != nil {
			return server.Intent{}, err
		}
		in.Protocol = p
	}
	return in, nil
}

func connectSubcommand() *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:     "connect [servername]",
		Aliases: []string{"c"},
		Short:   "Connect to a Proton VPN server",
		Example: "  protonvpn connect NL#1\n  protonvpn connect --cc CH -p tcp\n  protonvpn connect -f",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := flags.intent(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			infoColor.Println("Setting up Proton VPN...")
			if err = s.Connect(cmd.Context(), intent); err != nil {
				return err
			}
			st, err := s.Status(cmd.Context())
			if err != nil {
				return err
			}
			done("Successfully connected to Proton VPN (%s).", st.Server)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.BoolVarP(&flags.fastest, "fastest", "f", false, "connect to the fastest server")
	fs.BoolVarP(&flags.random, "random", "r", false, "connect to a random server")
	fs.StringVar(&flags.country, "cc", "", "connect to the fastest server in a country, e.g. CH")
	fs.BoolVar(&flags.secureCore, "sc", false, "connect to the fastest secure core server")
	fs.BoolVar(&flags.p2p, "p2p", false, "connect to the fastest P2P server")
	fs.BoolVar(&flags.tor, "tor", false, "connect to the fastest Tor server")
	fs.BoolVar(&flags.previous, "previous", false, "reconnect to the last server")
	fs.StringVarP(&flags.protocol, "protocol", "p", "", "the transport protocol, udp or tcp")
	cmd.MarkFlagsMutuallyExclusive("fastest", "random", "cc", "sc", "p2p", "tor", "previous")
	return cmd
}

func disconnectSubcommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect",
		Aliases: []string{"d"},
		Short:   "Disconnect from Proton VPN",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err = s.Disconnect(cmd.Context()); err != nil {
				return err
			}
			done("Successfully disconnected from Proton VPN.")
			return nil
		},
	}
}
