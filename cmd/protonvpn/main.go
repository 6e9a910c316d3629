// Command protonvpn is the command line client of the ProtonVPN NetworkManager core
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/protonvpn/protonvpn-nm-core/internal/version"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	okColor   = color.New(color.FgGreen)
	infoColor = color.New(color.FgBlue)
	bold      = color.New(color.Bold)
)

// rootCommand returns the protonvpn command with every subcommand
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "protonvpn",
		Short:         "Proton VPN command line client for NetworkManager",
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("Proton VPN CLI v{{.Version}}\n")
	root.AddCommand(loginSubcommand())
	root.AddCommand(logoutSubcommand())
	root.AddCommand(connectSubcommand())
	root.AddCommand(disconnectSubcommand())
	root.AddCommand(statusSubcommand())
	root.AddCommand(configureSubcommand())
	return root
}

// fail prints err the way every user facing error is shown
func fail(err error) {
	errColor.Fprintf(os.Stderr, "[!] %s\n", err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	closeLog()
	if err != nil {
		fail(err)
		os.Exit(1)
	}
}

// done prints a success line
func done(format string, args ...interface{}) {
	okColor.Println(fmt.Sprintf(format, args...))
}
