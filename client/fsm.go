package client

import (
	"github.com/protonvpn/protonvpn-nm-core/internal/fsm"
)

type (
	// FSMStateID is the state of the client lifecycle
	FSMStateID = fsm.StateID
	// FSMStates are the states of the client lifecycle
	FSMStates = fsm.States
	// FSMState is a single state with its transitions
	FSMState = fsm.State
	// FSMTransition is a transition to another state
	FSMTransition = fsm.Transition
)

const (
	// StateLoggedOut means there is no session in the keyring
	StateLoggedOut FSMStateID = iota

	// StateDisconnected means the user is logged in and there is no ProtonVPN connection
	StateDisconnected

	// StateConnecting means a connection is being set up and activated
	StateConnecting

	// StateConnected means the tunnel is active
	StateConnected

	// StateDisconnecting means the connection is being removed
	StateDisconnecting
)

// GetStateName returns the name of the state as used in the graph
func GetStateName(s FSMStateID) string {
	switch s {
	case StateLoggedOut:
		return "Logged_Out"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		panic("unknown conversion of state to string")
	}
}

func newFSM(callback func(FSMStateID, FSMStateID, interface{}) bool, directory string, debug bool) fsm.FSM {
	states := FSMStates{
		StateLoggedOut: FSMState{
			Transitions: []FSMTransition{{To: StateDisconnected, Description: "Login or session restored"}},
		},
		StateDisconnected: FSMState{
			Transitions: []FSMTransition{
				{To: StateConnecting, Description: "User connects"},
				{To: StateConnected, Description: "Existing connection found"},
				{To: StateLoggedOut, Description: "Logout"},
			},
		},
		StateConnecting: FSMState{
			Transitions: []FSMTransition{
				{To: StateConnected, Description: "Tunnel is active"},
				{To: StateDisconnected, Description: "Error"},
			},
		},
		StateConnected: FSMState{
			Transitions: []FSMTransition{
				{To: StateConnecting, Description: "User connects to another server"},
				{To: StateDisconnecting, Description: "User disconnects"},
			},
		},
		StateDisconnecting: FSMState{
			Transitions: []FSMTransition{
				{To: StateDisconnected, Description: "Connection removed or Error"},
			},
		},
	}
	m := fsm.NewFSM(StateLoggedOut, states, callback, GetStateName)
	if debug {
		m.Directory = directory
	}
	return m
}
