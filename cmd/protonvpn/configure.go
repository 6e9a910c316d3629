package main

import (
	"context"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// settingsClient is the part of the client the configure command changes
type settingsClient interface {
	Settings() config.Settings
	SetProtocol(p protocol.Protocol) error
	SetKillswitch(ctx context.Context, m config.KillswitchMode) error
	SetDNS(m config.DNSMode, servers []string) error
	SetNetShield(n config.NetShield) error
	SetSplitTunnel(ips []string) error
	SetReconnect(enabled bool) error
	ResetSettings(ctx context.Context) error
}

const (
	optProtocol   = "protocol"
	optKillswitch = "killswitch"
	optDNS        = "dns"
	optNetShield  = "netshield"
	optSplit      = "split-tunnel"
	optReconnect  = "reconnect"
	optReset      = "reset"
)

// configureFlags are the values of the configure command, only the changed ones are applied
type configureFlags struct {
	protocol    string
	killswitch  string
	dns         string
	customDNS   string
	netshield   string
	splitTunnel string
	reconnect   bool
	reset       bool
}

// list splits a comma or space separated list
func list(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// apply writes the settings named in changed, a reset happens first
func (f configureFlags) apply(ctx context.Context, c settingsClient, changed map[string]bool) error {
	if changed[optReset] && f.reset {
		if err := c.ResetSettings(ctx); err != nil {
			return err
		}
	}
	if changed[optProtocol] {
		p, err := protocol.Parse(strings.ToLower(f.protocol))
		if err != nil {
			return err
		}
		if err = c.SetProtocol(p); err != nil {
			return err
		}
	}
	if changed[optDNS] {
		m, err := config.ParseDNS(f.dns)
		if err != nil {
			return err
		}
		var servers []string
		if m == config.DNSCustom {
			servers = list(f.customDNS)
		}
		if err = c.SetDNS(m, servers); err != nil {
			return err
		}
	}
	if changed[optNetShield] {
		n, err := config.ParseNetShield(f.netshield)
		if err != nil {
			return err
		}
		if err = c.SetNetShield(n); err != nil {
			return err
		}
	}
	if changed[optSplit] {
		if err := c.SetSplitTunnel(list(f.splitTunnel)); err != nil {
			return err
		}
	}
	if changed[optReconnect] {
		if err := c.SetReconnect(f.reconnect); err != nil {
			return err
		}
	}
	// last, it changes the firewall right away
	if changed[optKillswitch] {
		m, err := config.ParseKillswitch(f.killswitch)
		if err != nil {
			return err
		}
		if err = c.SetKillswitch(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ask fills the flags interactively for one setting and returns what changed
func (f *configureFlags) ask(current config.Settings) (map[string]bool, error) {
	options := []string{optProtocol, optKillswitch, optDNS, optNetShield, optSplit, optReconnect, optReset}
	var choice string
	if err := survey.AskOne(&survey.Select{Message: "Which setting do you want to change?", Options: options}, &choice); err != nil {
		return nil, err
	}
	var err error
	switch choice {
	case optProtocol:
		err = survey.AskOne(&survey.Select{
			Message: "Default protocol:", Options: []string{"udp", "tcp"}, Default: current.Protocol.String(),
		}, &f.protocol)
	case optKillswitch:
		err = survey.AskOne(&survey.Select{
			Message: "Kill switch:", Options: config.KillswitchModes(), Default: current.Killswitch.String(),
		}, &f.killswitch)
	case optDNS:
		err = survey.AskOne(&survey.Select{
			Message: "DNS:", Options: config.DNSModes(), Default: current.DNS.String(),
		}, &f.dns)
		if err == nil && f.dns == config.DNSCustom.String() {
			err = survey.AskOne(&survey.Input{
				Message: "Custom DNS servers, separated by commas:", Default: strings.Join(current.CustomDNS, ", "),
			}, &f.customDNS)
		}
	case optNetShield:
		err = survey.AskOne(&survey.Select{
			Message: "NetShield:", Options: config.NetShieldLevels(), Default: current.NetShield.String(),
		}, &f.netshield)
	case optSplit:
		err = survey.AskOne(&survey.Input{
			Message: "IPs that bypass the VPN, separated by commas:", Default: strings.Join(current.SplitTunnel, ", "),
		}, &f.splitTunnel)
	case optReconnect:
		err = survey.AskOne(&survey.Confirm{Message: "Reconnect automatically?", Default: current.Reconnect}, &f.reconnect)
	case optReset:
		err = survey.AskOne(&survey.Confirm{Message: "Reset every setting to its default?"}, &f.reset)
	}
	if err != nil {
		return nil, err
	}
	return map[string]bool{choice: true}, nil
}

func configureSubcommand() *cobra.Command {
	var flags configureFlags
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Change the settings, interactively when no flag is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			changed := make(map[string]bool)
			for _, name := range []string{optProtocol, optKillswitch, optDNS, optNetShield, optSplit, optReconnect, optReset} {
				if cmd.Flags().Changed(name) {
					changed[name] = true
				}
			}
			if cmd.Flags().Changed("custom-dns") && !changed[optDNS] {
				flags.dns = config.DNSCustom.String()
				changed[optDNS] = true
			}
			if len(changed) == 0 {
				if changed, err = flags.ask(s.Settings()); err != nil {
					return err
				}
			}
			if err = flags.apply(cmd.Context(), s, changed); err != nil {
				return err
			}
			done("Settings saved, they apply on the next connect.")
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&flags.protocol, optProtocol, "p", "", "default protocol, udp or tcp")
	fs.StringVar(&flags.killswitch, optKillswitch, "", "kill switch: "+strings.Join(config.KillswitchModes(), ", "))
	fs.StringVar(&flags.dns, optDNS, "", "DNS: "+strings.Join(config.DNSModes(), ", "))
	fs.StringVar(&flags.customDNS, "custom-dns", "", "custom DNS servers, separated by commas")
	fs.StringVar(&flags.netshield, optNetShield, "", "NetShield: "+strings.Join(config.NetShieldLevels(), ", "))
	fs.StringVar(&flags.splitTunnel, optSplit, "", "IPs that bypass the VPN, separated by commas")
	fs.BoolVar(&flags.reconnect, optReconnect, true, "reconnect automatically when the tunnel drops")
	fs.BoolVar(&flags.reset, optReset, false, "reset every setting to its default")
	return cmd
}
