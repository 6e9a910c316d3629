package test

import (
	"sort"
	"strings"
	"sync"

	"github.com/protonvpn/protonvpn-nm-core/internal/shellx/shellxtesting"
)

// NMCLI fakes the nmcli connection commands for dummy connections
// Added connections are active right away, as NetworkManager does for dummies
type NMCLI struct {
	mu     sync.Mutex
	exists map[string]bool
	active map[string]bool
	log    []string

	// RejectRoutes makes adding a connection with ipv4.routes fail with code 2
	RejectRoutes bool
	// Fail maps a verb and name, e.g. "up pvpn-killswitch", to an exit code
	Fail map[string]int
}

// NewNMCLI creates a fake without connections
func NewNMCLI() *NMCLI {
	return &NMCLI{exists: map[string]bool{}, active: map[string]bool{}, Fail: map[string]int{}}
}

// Script returns the shellx library that routes nmcli to the fake
func (n *NMCLI) Script() *shellxtesting.Script {
	return &shellxtesting.Script{Respond: n.Respond}
}

func argValue(argv []string, key string) string {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == key {
			return argv[i+1]
		}
	}
	return ""
}

func contains(argv []string, s string) bool {
	for _, a := range argv {
		if a == s {
			return true
		}
	}
	return false
}

// Respond implements the Respond func of a shellxtesting.Script
func (n *NMCLI) Respond(argv []string) shellxtesting.Reply {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(argv) == 0 || argv[0] != "nmcli" {
		return shellxtesting.Reply{Stderr: "unknown program", Code: 127}
	}
	args := argv[1:]
	if len(args) >= 5 && args[0] == "-t" && args[3] == "connection" && args[4] == "show" {
		set := n.exists
		if contains(args, "--active") {
			set = n.active
		}
		var out []string
		for name, ok := range set {
			if ok {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return shellxtesting.Reply{Stdout: strings.Join(out, "\n") + "\n"}
	}
	if len(args) < 3 || args[0] != "connection" {
		return shellxtesting.Reply{Stderr: "unsupported", Code: 2}
	}
	verb := args[1]
	switch verb {
	case "add":
		name := argValue(args, "con-name")
		if code, ok := n.Fail["add "+name]; ok {
			return shellxtesting.Reply{Stderr: "failed", Code: code}
		}
		if n.RejectRoutes && contains(args, "ipv4.routes") {
			return shellxtesting.Reply{Stderr: "invalid property 'routes'", Code: 2}
		}
		n.exists[name] = true
		n.active[name] = true
		n.log = append(n.log, "add "+name)
		return shellxtesting.Reply{}
	case "up", "down", "delete":
		name := args[2]
		if code, ok := n.Fail[verb+" "+name]; ok {
			return shellxtesting.Reply{Stderr: "failed", Code: code}
		}
		if !n.exists[name] {
			return shellxtesting.Reply{Stderr: "unknown connection '" + name + "'", Code: 10}
		}
		switch verb {
		case "up":
			n.active[name] = true
		case "down":
			n.active[name] = false
		default:
			delete(n.exists, name)
			delete(n.active, name)
		}
		n.log = append(n.log, verb+" "+name)
		return shellxtesting.Reply{}
	}
	return shellxtesting.Reply{Stderr: "unsupported", Code: 2}
}

// Log returns the state changing commands as "verb name"
func (n *NMCLI) Log() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.log...)
}

// ResetLog forgets the recorded commands
func (n *NMCLI) ResetLog() {
	n.mu.Lock()
	n.log = nil
	n.mu.Unlock()
}

// Exists returns whether the connection exists
func (n *NMCLI) Exists(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.exists[name]
}

// Active returns whether the connection is active
func (n *NMCLI) Active(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active[name]
}
