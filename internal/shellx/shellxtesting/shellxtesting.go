// Package shellxtesting contains mocks for shellx
package shellxtesting

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/execabs"

	"github.com/protonvpn/protonvpn-nm-core/internal/shellx"
)

// Library implements shellx.Dependencies
type Library struct {
	MockCmdRun func(c *execabs.Cmd) error

	MockLookPath func(file string) (string, error)
}

var _ shellx.Dependencies = &Library{}

// CmdRun implements shellx.Dependencies
func (lib *Library) CmdRun(c *execabs.Cmd) error {
	return lib.MockCmdRun(c)
}

// LookPath implements shellx.Dependencies
func (lib *Library) LookPath(file string) (string, error) {
	return lib.MockLookPath(file)
}

// MustArgv returns the argv of the command with the program base name or panics
func MustArgv(c *execabs.Cmd) []string {
	if len(c.Args) < 1 {
		panic("too few arguments")
	}
	out := []string{filepath.Base(c.Path)}
	return append(out, c.Args[1:]...)
}

// ExitCode is an error that looks like a process that exited with the code
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// ExitCode returns the code
func (e ExitCode) ExitCode() int {
	return int(e)
}

// Reply is the outcome of a faked program
type Reply struct {
	Stdout string
	Stderr string
	Code   int
}

// Script is a fake shellx.Dependencies that records the commands it is asked to run
// Respond decides the outcome of every command, programs in Missing are not found
type Script struct {
	mu      sync.Mutex
	calls   [][]string
	Respond func(argv []string) Reply
	Missing map[string]bool
}

var _ shellx.Dependencies = &Script{}

// CmdRun implements shellx.Dependencies
func (s *Script) CmdRun(c *execabs.Cmd) error {
	argv := MustArgv(c)
	s.mu.Lock()
	s.calls = append(s.calls, argv)
	respond := s.Respond
	s.mu.Unlock()

	var r Reply
	if respond != nil {
		r = respond(argv)
	}
	if c.Stdout != nil {
		_, _ = c.Stdout.Write([]byte(r.Stdout))
	}
	if c.Stderr != nil {
		_, _ = c.Stderr.Write([]byte(r.Stderr))
	}
	if r.Code != 0 {
		return ExitCode(r.Code)
	}
	return nil
}

// LookPath implements shellx.Dependencies
func (s *Script) LookPath(file string) (string, error) {
	if s.Missing[file] {
		return "", &execabs.Error{Name: file, Err: execabs.ErrNotFound}
	}
	return "/usr/bin/" + file, nil
}

// Calls returns the recorded commands joined by spaces
func (s *Script) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Reset forgets the recorded commands
func (s *Script) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// WithCustomLibrary executes the given function with a custom shellx.Library
func WithCustomLibrary(library shellx.Dependencies, fn func()) {
	prev := shellx.Library
	defer func() {
		shellx.Library = prev
	}()
	shellx.Library = library
	fn()
}
