package reconnector

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/shellx"
)

// UnitName is the name of the user service that runs the agent
const UnitName = "protonvpn_reconnect.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=ProtonVPN Reconnector
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.ExecStart}}

[Install]
WantedBy=multi-user.target
`))

// RenderUnit renders the service file that starts the entrypoint with the executable exe
func RenderUnit(exe string, entrypoint ...string) ([]byte, error) {
	if exe == "" {
		return nil, errors.New("no executable for the reconnector unit")
	}
	argv := &shellx.Argv{P: exe, V: entrypoint}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, struct{ ExecStart string }{ExecStart: argv.String()}); err != nil {
		return nil, errors.WrapPrefix(err, "failed rendering the reconnector unit", 0)
	}
	return buf.Bytes(), nil
}

// InstallUnit writes the rendered unit to path unless it is installed already
// It returns whether the file changed, the service manager has to reload it in that case
func InstallUnit(path, exe string, entrypoint ...string) (bool, error) {
	b, err := RenderUnit(exe, entrypoint...)
	if err != nil {
		return false, err
	}
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, b) {
		return false, nil
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, errors.WrapPrefix(err, "failed creating the unit directory", 0)
	}
	if err = os.WriteFile(path, b, 0o600); err != nil {
		return false, errors.WrapPrefix(err, "failed writing the reconnector unit", 0)
	}
	logger.Infof("Installed %s", path)
	return true, nil
}

// Service controls the agent through the user service manager
type Service struct {
	// UnitPath is where the unit is installed
	UnitPath string
	// Exe and Entrypoint form the ExecStart line
	Exe        string
	Entrypoint []string
}

func systemctl(ctx context.Context, args ...string) error {
	err := shellx.Run(ctx, "systemctl", append([]string{"--user"}, args...)...)
	if err != nil {
		return errors.WrapPrefix(err, "systemctl "+strings.Join(args, " "), 0)
	}
	return nil
}

// Start installs the unit if needed and (re)starts the agent
func (s *Service) Start(ctx context.Context) error {
	changed, err := InstallUnit(s.UnitPath, s.Exe, s.Entrypoint...)
	if err != nil {
		return err
	}
	if changed {
		if err = systemctl(ctx, "daemon-reload"); err != nil {
			return err
		}
	}
	return systemctl(ctx, "restart", UnitName)
}

// Stop stops the agent, a unit that was never installed is not an error
func (s *Service) Stop(ctx context.Context) error {
	if _, err := os.Stat(s.UnitPath); err != nil {
		return nil
	}
	return systemctl(ctx, "stop", UnitName)
}
