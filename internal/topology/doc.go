// Package topology implements the per-entity controllers of the discovery
// engine.
//
// Five controller types cooperate, each keyed by exactly one identity:
//
//   - Switch controller (switch id): online/offline lifecycle and port
//     inventory reconciliation.
//   - Port controller (endpoint): online mode and link status of one port.
//   - Uni-ISL controller (endpoint): one direction's view of a link.
//   - ISL controller (canonical ISL reference): merges both directions into
//     one bidirectional link state.
//   - BFD-port controller (physical endpoint): hardware BFD session lifecycle
//     coupled to ISL state.
//
// Every controller is an explicit transition table (see fsm.go). Controllers
// never call each other: all output goes through a carrier interface, which
// the engine implements by dispatching new work to the owner of the target
// key. Each Service type is the registry of one controller type and is owned
// by a single worker, so neither services nor controllers lock.
package topology
