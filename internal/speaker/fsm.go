package speaker

// This file implements the controller-connection sync FSM as a pure function
// over a transition table: no side effects, no Monitor dependency. The
// Monitor classifies inbound traffic and ticks into events and executes the
// returned actions.
//
//	            tick                 dump complete
//	NEED_SYNC ---------> WAIT_SYNC ----------------> MAIN
//	    ^                 |     ^                     |
//	    |                 +-----+ stale: re-request   | outage
//	    |                                             v
//	    +----------------- any message ------------ OFFLINE

// State is the sync state of one region's controller connection.
type State uint8

const (
	// StateNeedSync means the engine's view of the region must be rebuilt.
	StateNeedSync State = iota
	// StateWaitSync means a network dump was requested and is being received.
	StateWaitSync
	// StateMain means the view is synchronized and live events flow through.
	StateMain
	// StateOffline means the connection went silent.
	StateOffline
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateNeedSync:
		return "NeedSync"
	case StateWaitSync:
		return "WaitSync"
	case StateMain:
		return "Main"
	case StateOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Event is an input of the sync FSM.
type Event uint8

const (
	// EventTick is a timer tick with nothing overdue.
	EventTick Event = iota
	// EventDumpChunk is a non-final chunk of the requested dump.
	EventDumpChunk
	// EventDumpComplete is the final chunk of the requested dump.
	EventDumpComplete
	// EventDumpStale means the requested dump did not complete in time.
	EventDumpStale
	// EventStaleChunk is a dump chunk for a request that is no longer current.
	EventStaleChunk
	// EventMessage is any live event other than a heartbeat or dump chunk.
	EventMessage
	// EventHeartbeat is an explicit keepalive.
	EventHeartbeat
	// EventOutage means no traffic arrived within the outage timeout.
	EventOutage
	// EventResync forces a new dump, e.g. after the region came back alive.
	EventResync
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventTick:
		return "Tick"
	case EventDumpChunk:
		return "DumpChunk"
	case EventDumpComplete:
		return "DumpComplete"
	case EventDumpStale:
		return "DumpStale"
	case EventStaleChunk:
		return "StaleChunk"
	case EventMessage:
		return "Message"
	case EventHeartbeat:
		return "Heartbeat"
	case EventOutage:
		return "Outage"
	case EventResync:
		return "Resync"
	default:
		return "Unknown"
	}
}

// Action is a side effect the Monitor executes after a transition.
type Action uint8

const (
	// ActionRequestDump issues a network dump request with a new correlation id.
	ActionRequestDump Action = iota + 1
	// ActionBufferChunk appends the chunk's switch to the dump buffer.
	ActionBufferChunk
	// ActionShareSync publishes the buffered dump as a full snapshot.
	ActionShareSync
	// ActionForward passes the live event on unmodified.
	ActionForward
	// ActionDrop discards the event.
	ActionDrop
	// ActionUnmanaged marks every switch of the region as unmanaged.
	ActionUnmanaged
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionRequestDump:
		return "RequestDump"
	case ActionBufferChunk:
		return "BufferChunk"
	case ActionShareSync:
		return "ShareSync"
	case ActionForward:
		return "Forward"
	case ActionDrop:
		return "Drop"
	case ActionUnmanaged:
		return "Unmanaged"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	actions  []Action
}

// Result is the outcome of applying an event to the sync FSM.
type Result struct {
	OldState State
	NewState State
	Actions  []Action
	// Changed is true when NewState differs from OldState.
	Changed bool
}

// syncTable is the complete sync transition table. Unlisted pairs are
// ignored.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var syncTable = map[stateEvent]transition{
	// NEED_SYNC: nothing is applied until a dump has been requested.
	{StateNeedSync, EventTick}:       {StateWaitSync, []Action{ActionRequestDump}},
	{StateNeedSync, EventResync}:     {StateWaitSync, []Action{ActionRequestDump}},
	{StateNeedSync, EventMessage}:    {StateNeedSync, []Action{ActionDrop}},
	{StateNeedSync, EventStaleChunk}: {StateNeedSync, []Action{ActionDrop}},

	// WAIT_SYNC: only the complete dump leaves this state.
	{StateWaitSync, EventDumpChunk}:    {StateWaitSync, []Action{ActionBufferChunk}},
	{StateWaitSync, EventDumpComplete}: {StateMain, []Action{ActionBufferChunk, ActionShareSync}},
	{StateWaitSync, EventDumpStale}:    {StateWaitSync, []Action{ActionRequestDump}},
	{StateWaitSync, EventResync}:       {StateWaitSync, []Action{ActionRequestDump}},
	{StateWaitSync, EventMessage}:      {StateWaitSync, []Action{ActionDrop}},
	{StateWaitSync, EventStaleChunk}:   {StateWaitSync, []Action{ActionDrop}},

	// MAIN
	{StateMain, EventMessage}:    {StateMain, []Action{ActionForward}},
	{StateMain, EventStaleChunk}: {StateMain, []Action{ActionDrop}},
	{StateMain, EventOutage}:     {StateOffline, []Action{ActionUnmanaged}},
	{StateMain, EventResync}:     {StateWaitSync, []Action{ActionRequestDump}},

	// OFFLINE: any traffic means the channel recovered; events sent during
	// the gap are lost, so start over.
	{StateOffline, EventMessage}:      {StateNeedSync, []Action{ActionDrop}},
	{StateOffline, EventHeartbeat}:    {StateNeedSync, nil},
	{StateOffline, EventDumpChunk}:    {StateNeedSync, []Action{ActionDrop}},
	{StateOffline, EventDumpComplete}: {StateNeedSync, []Action{ActionDrop}},
	{StateOffline, EventStaleChunk}:   {StateNeedSync, []Action{ActionDrop}},
	{StateOffline, EventResync}:       {StateWaitSync, []Action{ActionRequestDump}},
}

// ApplyEvent returns the transition for event in state. Unknown pairs leave
// the state unchanged with no actions.
func ApplyEvent(state State, event Event) Result {
	tr, ok := syncTable[stateEvent{state: state, event: event}]
	if !ok {
		return Result{OldState: state, NewState: state}
	}

	return Result{
		OldState: state,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  state != tr.newState,
	}
}
