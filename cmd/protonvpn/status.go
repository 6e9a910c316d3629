package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/protonvpn/protonvpn-nm-core/types/server"
)

// formatDuration prints d as H:MM:SS
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%d:%02d:%02d", h, m, d/time.Second)
}

// printStatus writes the status the way the status command shows it
func printStatus(w io.Writer, st server.Status, now time.Time) {
	if !st.Connected {
		fmt.Fprintln(w, "No active Proton VPN connection.")
		fmt.Fprintf(w, "%-17s%s\n", "Kill Switch:", st.Killswitch)
		return
	}
	country := st.Country
	if st.City != "" {
		country += " (" + st.City + ")"
	}
	rows := [][2]string{
		{"IP", st.ExitIP},
		{"Server", st.Server},
		{"Country", country},
		{"Protocol", st.Protocol.Display()},
		{"Kill Switch", st.Killswitch},
		{"Features", strings.Join(st.Features, ", ")},
		{"Server Load", fmt.Sprintf("%d%%", st.Load)},
		{"Connection time", formatDuration(st.Duration(now))},
	}
	fmt.Fprintln(w, bold.Sprint("Proton VPN Connection Status"))
	fmt.Fprintln(w, strings.Repeat("-", 28))
	for _, r := range rows {
		fmt.Fprintf(w, "%-17s%s\n", r[0]+":", r[1])
	}
}

func statusSubcommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show the connection status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := s.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(os.Stdout, st, time.Now())
			return nil
		},
	}
}
