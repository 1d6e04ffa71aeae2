package topology

// This file implements the transition-table machinery shared by every
// controller type. Each controller declares one immutable table at package
// init: (state, event) -> (next state, action), plus optional entry and exit
// actions per state. Tables hold no per-instance data; a controller passes
// itself to every action.
//
// Events fired from inside an action (choice states such as UP_ATTEMPT fire
// their own outcome) are queued and processed after the current transition
// completes, so entry/exit ordering is always: exit(old), action, entry(new).

// actionFunc is a transition, entry, or exit callback. It receives the owning
// controller, the states involved, the triggering event, and the per-call
// context.
type actionFunc[M any, S comparable, E comparable, C any] func(m M, from, to S, event E, ctx C)

type stateEvent[S comparable, E comparable] struct {
	state S
	event E
}

type transition[M any, S comparable, E comparable, C any] struct {
	to       S
	action   actionFunc[M, S, E, C]
	internal bool
}

// table is the immutable transition table of one controller type.
type table[M any, S comparable, E comparable, C any] struct {
	transitions map[stateEvent[S, E]]transition[M, S, E, C]
	entry       map[S]actionFunc[M, S, E, C]
	exit        map[S]actionFunc[M, S, E, C]
}

func newTable[M any, S comparable, E comparable, C any]() *table[M, S, E, C] {
	return &table[M, S, E, C]{
		transitions: make(map[stateEvent[S, E]]transition[M, S, E, C]),
		entry:       make(map[S]actionFunc[M, S, E, C]),
		exit:        make(map[S]actionFunc[M, S, E, C]),
	}
}

// external registers a transition that leaves from and enters to, running
// exit and entry actions even when from == to.
func (t *table[M, S, E, C]) external(from S, event E, to S, action actionFunc[M, S, E, C]) *table[M, S, E, C] {
	t.transitions[stateEvent[S, E]{from, event}] = transition[M, S, E, C]{to: to, action: action}
	return t
}

// internal registers an action that runs in state without leaving it.
func (t *table[M, S, E, C]) internal(state S, event E, action actionFunc[M, S, E, C]) *table[M, S, E, C] {
	t.transitions[stateEvent[S, E]{state, event}] = transition[M, S, E, C]{to: state, action: action, internal: true}
	return t
}

func (t *table[M, S, E, C]) onEntry(state S, action actionFunc[M, S, E, C]) *table[M, S, E, C] {
	t.entry[state] = action
	return t
}

func (t *table[M, S, E, C]) onExit(state S, action actionFunc[M, S, E, C]) *table[M, S, E, C] {
	t.exit[state] = action
	return t
}

// machine is the per-instance runtime of a table.
type machine[M any, S comparable, E comparable, C any] struct {
	table   *table[M, S, E, C]
	state   S
	queue   []queuedEvent[E, C]
	running bool
	observe func(from, to S, event E)
}

type queuedEvent[E comparable, C any] struct {
	event E
	ctx   C
}

func newMachine[M any, S comparable, E comparable, C any](t *table[M, S, E, C], initial S) machine[M, S, E, C] {
	return machine[M, S, E, C]{table: t, state: initial}
}

// fire delivers event to the machine. It reports whether the event had a
// transition from the current state. Events fired re-entrantly from inside an
// action are queued; for those the return value is always true.
func (m *machine[M, S, E, C]) fire(owner M, event E, ctx C) bool {
	if m.running {
		m.queue = append(m.queue, queuedEvent[E, C]{event: event, ctx: ctx})
		return true
	}

	handled := m.step(owner, event, ctx)
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.step(owner, next.event, next.ctx)
	}

	return handled
}

func (m *machine[M, S, E, C]) step(owner M, event E, ctx C) bool {
	tr, ok := m.table.transitions[stateEvent[S, E]{m.state, event}]
	if !ok {
		return false
	}

	from := m.state

	m.running = true
	defer func() { m.running = false }()

	if tr.internal {
		if tr.action != nil {
			tr.action(owner, from, from, event, ctx)
		}
		return true
	}

	if exit := m.table.exit[from]; exit != nil {
		exit(owner, from, tr.to, event, ctx)
	}
	if tr.action != nil {
		tr.action(owner, from, tr.to, event, ctx)
	}
	m.state = tr.to
	if m.observe != nil {
		m.observe(from, tr.to, event)
	}
	if entry := m.table.entry[tr.to]; entry != nil {
		entry(owner, from, tr.to, event, ctx)
	}

	return true
}

// current returns the current state.
func (m *machine[M, S, E, C]) current() S {
	return m.state
}
