// Package fsm defines a finite state machine and has the ability to save this state machine to a graph file
// This graph file can be visualized using mermaid.js
package fsm

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

type (
	// StateID represents the Identifier of the state
	StateID int8
	// StateIDSlice represents the list of state identifiers
	StateIDSlice []StateID
)

func (v StateIDSlice) Len() int {
	return len(v)
}

func (v StateIDSlice) Less(i, j int) bool {
	return v[i] < v[j]
}

func (v StateIDSlice) Swap(i, j int) {
	v[i], v[j] = v[j], v[i]
}

// Transition indicates an arrow in the state graph
type Transition struct {
	// To represents the to-be-new state
	To StateID
	// Description is what type of message the arrow gets in the graph
	Description string
}

// States is the map from state ID to states
type States map[StateID]State

// State represents a single node in the graph
type State struct {
	// Transitions indicates which out arrows this node has
	Transitions []Transition
}

// FSM represents the total graph
type FSM struct {
	// States is the map from state ID to states
	States States

	// Current is the current state represented by the identifier
	Current StateID

	// initial is the state the machine can always go back to
	initial StateID

	// StateCallback is the function ran when a transition occurs
	// It takes the old state, the new state and the data and returns if this is handled by the client
	StateCallback func(StateID, StateID, interface{}) bool

	// Directory represents the path where the state graph is stored, empty means no graph is written
	Directory string

	// GetStateName gets the name of a state as a string
	GetStateName func(StateID) string
}

// NewFSM creates a new state machine in the current state
func NewFSM(current StateID, states States, callback func(StateID, StateID, interface{}) bool, nameGen func(StateID) string) FSM {
	return FSM{
		States:        states,
		Current:       current,
		initial:       current,
		StateCallback: callback,
		GetStateName:  nameGen,
	}
}

// InState returns whether or not the state machine is in the given 'check' state
func (fsm *FSM) InState(check StateID) bool {
	return check == fsm.Current
}

// HasTransition checks whether or not the state machine has a transition to the given 'check' state
func (fsm *FSM) HasTransition(check StateID) bool {
	for _, transitionState := range fsm.States[fsm.Current].Transitions {
		if transitionState.To == check {
			return true
		}
	}
	return false
}

// CheckTransition returns an error if the machine cannot go to the desired state
// The initial state can always be reached
func (fsm *FSM) CheckTransition(desired StateID) error {
	if desired == fsm.initial && fsm.Current != fsm.initial {
		return nil
	}
	if !fsm.HasTransition(desired) {
		return errors.Errorf("fsm invalid transition attempt from '%s' to '%s'", fsm.GetStateName(fsm.Current), fsm.GetStateName(desired))
	}
	return nil
}

// writeGraph writes the state machine to a .graph file in the directory
func (fsm *FSM) writeGraph() {
	if fsm.Directory == "" {
		return
	}
	p := filepath.Join(fsm.Directory, "graph.graph")
	if err := os.WriteFile(p, []byte(fsm.GenerateGraph()), 0o600); err != nil {
		log.Logger.Debugf("failed writing state graph: %v", err)
	}
}

// GoTransitionRequired transitions the state machine to a new state with associated state data 'data'
// If this transition is not handled by the client, it returns an error
func (fsm *FSM) GoTransitionRequired(newState StateID, data interface{}) error {
	oldState := fsm.Current
	handled, err := fsm.GoTransitionWithData(newState, data)
	if err != nil {
		return err
	}
	if !handled {
		return errors.Errorf("fsm failed transition from '%s' to '%s', is this required transition handled?", fsm.GetStateName(oldState), fsm.GetStateName(newState))
	}
	return nil
}

// GoTransitionWithData is a helper that transitions the state machine toward the 'newState' with associated state data 'data'
// It returns whether or not the transition is handled by the client
func (fsm *FSM) GoTransitionWithData(newState StateID, data interface{}) (bool, error) {
	if err := fsm.CheckTransition(newState); err != nil {
		return false, err
	}
	oldState := fsm.Current
	fsm.Current = newState
	fsm.writeGraph()
	if fsm.StateCallback == nil {
		return false, nil
	}
	return fsm.StateCallback(oldState, newState, data), nil
}

// GoTransition is an alias to call GoTransitionWithData but have an empty string as data
func (fsm *FSM) GoTransition(newState StateID) (bool, error) {
	// No data means the callback is never required
	return fsm.GoTransitionWithData(newState, "")
}

// generateMermaidGraph generates a graph suitable to be converted by the mermaid.js tool
// it returns the graph as a string
func (fsm *FSM) generateMermaidGraph() string {
	var graph strings.Builder
	graph.WriteString("graph TD\n")
	sorted := make(StateIDSlice, 0, len(fsm.States))
	for stateID := range fsm.States {
		sorted = append(sorted, stateID)
	}
	sort.Sort(sorted)
	for _, state := range sorted {
		name := fsm.GetStateName(state)
		for _, transition := range fsm.States[state].Transitions {
			if state == fsm.Current {
				graph.WriteString("\nstyle " + name + " fill:cyan\n")
			} else {
				graph.WriteString("\nstyle " + name + " fill:white\n")
			}
			graph.WriteString(name + "(" + name + ") -->|" + transition.Description + "| " + fsm.GetStateName(transition.To) + "\n")
		}
	}
	return graph.String()
}

// GenerateGraph generates a mermaid graph if the state machine is initialized
// If the graph cannot be generated, it returns the empty string
func (fsm *FSM) GenerateGraph() string {
	if fsm.GetStateName != nil {
		return fsm.generateMermaidGraph()
	}
	return ""
}
