// Package shellx runs external programs such as nmcli and systemctl
// Every execution goes through Library so that tests can replace it
package shellx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-errors/errors"
	"github.com/google/shlex"
	"golang.org/x/sys/execabs"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

// Dependencies is the library on which this package depends
type Dependencies interface {
	// CmdRun is equivalent to calling c.Run
	CmdRun(c *execabs.Cmd) error

	// LookPath is equivalent to calling execabs.LookPath
	LookPath(file string) (string, error)
}

// Library contains the default dependencies
var Library Dependencies = &StdlibDependencies{}

// StdlibDependencies contains the stdlib implementation of the Dependencies
type StdlibDependencies struct{}

// CmdRun implements Dependencies
func (*StdlibDependencies) CmdRun(c *execabs.Cmd) error {
	return c.Run()
}

// LookPath implements Dependencies
func (*StdlibDependencies) LookPath(file string) (string, error) {
	return execabs.LookPath(file)
}

// ErrNoCommandToExecute means that the command line is empty
var ErrNoCommandToExecute = errors.New("shellx: no command to execute")

// Argv contains the complete argv
type Argv struct {
	// P is the program to execute
	P string

	// V contains the arguments
	V []string
}

// NewArgv creates a new Argv from the given command and arguments
func NewArgv(command string, args ...string) (*Argv, error) {
	fullpath, err := Library.LookPath(command)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed finding "+command, 0)
	}
	return &Argv{P: fullpath, V: args}, nil
}

// ParseCommandLine creates an Argv from the given command line
func ParseCommandLine(cmdline string) (*Argv, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed splitting command line", 0)
	}
	if len(args) < 1 {
		return nil, ErrNoCommandToExecute
	}
	return NewArgv(args[0], args[1:]...)
}

// String returns the quoted command line
func (a *Argv) String() string {
	v := []string{maybeQuoteArg(a.P)}
	for _, arg := range a.V {
		v = append(v, maybeQuoteArg(arg))
	}
	return strings.Join(v, " ")
}

// Result is the outcome of a program that was started
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned by Result.Err when the program exited with a non zero code
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.Code, msg)
}

// exitCoder is implemented by execabs.ExitError
type exitCoder interface {
	ExitCode() int
}

// Exec runs argv and captures its output
// A non zero exit code is not an error here, only failing to start the program is
func Exec(ctx context.Context, argv *Argv) (*Result, error) {
	cmd := execabs.CommandContext(ctx, argv.P, argv.V...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Logger.Debugf("+ %s", argv.String())

	err := Library.CmdRun(cmd)
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() > 0 {
		res.ExitCode = ec.ExitCode()
		log.Logger.Debugf("%s exited with code %d", argv.P, res.ExitCode)
		return res, nil
	}
	return nil, errors.WrapPrefix(err, "failed running "+argv.P, 0)
}

// Output runs command with args and returns its standard output
// A non zero exit code is returned as an *ExitError
func Output(ctx context.Context, command string, args ...string) ([]byte, error) {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	res, err := Exec(ctx, argv)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res.Stdout, &ExitError{Command: command, Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return res.Stdout, nil
}

// Run is Output that discards the standard output
func Run(ctx context.Context, command string, args ...string) error {
	_, err := Output(ctx, command, args...)
	return err
}

// RunCommandLine is Run but takes a command line as argument
func RunCommandLine(ctx context.Context, cmdline string) error {
	argv, err := ParseCommandLine(cmdline)
	if err != nil {
		return err
	}
	res, err := Exec(ctx, argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Command: argv.P, Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}

// Available returns whether command can be found in PATH
func Available(command string) bool {
	_, err := Library.LookPath(command)
	return err == nil
}

// maybeQuoteArg quotes a command line argument if needed
func maybeQuoteArg(a string) string {
	if strings.Contains(a, "\"") {
		a = strings.ReplaceAll(a, "\"", "\\\"")
	}
	if strings.Contains(a, " ") {
		a = "\"" + a + "\""
	}
	return a
}
