package liveness

import (
	"time"

	"github.com/dantte-lp/gotopo/internal/model"
)

// DecisionCarrier receives the verdicts of a DecisionMaker.
type DecisionCarrier interface {
	LinkDiscovered(ep model.Endpoint, facts model.DiscoveryFacts)
	LinkFailed(ep model.Endpoint)
}

type decision struct {
	lastDiscovery time.Time
	reported      bool
}

// DecisionMaker turns individual probe results into link verdicts.
//
// A discovery is forwarded immediately. A failure is escalated only once
// failWindow has elapsed since the last successful discovery, and only once
// per outage: further failures are absorbed until the next discovery.
type DecisionMaker struct {
	awaitTime  time.Duration
	failWindow time.Duration
	state      map[model.Endpoint]*decision
}

// NewDecisionMaker creates a DecisionMaker. awaitTime is the probe timeout;
// it sets the synthetic baseline for endpoints that were never discovered.
func NewDecisionMaker(awaitTime, failWindow time.Duration) *DecisionMaker {
	return &DecisionMaker{
		awaitTime:  awaitTime,
		failWindow: failWindow,
		state:      make(map[model.Endpoint]*decision),
	}
}

// Discovered records a successful discovery for ep and forwards it.
func (d *DecisionMaker) Discovered(out DecisionCarrier, ep model.Endpoint, facts model.DiscoveryFacts, now time.Time) {
	st := d.lookup(ep)
	st.lastDiscovery = now
	st.reported = false

	out.LinkDiscovered(ep, facts)
}

// Failed records a missed probe for ep and escalates it when the fail window
// has been exceeded. It returns true when a failure was reported.
func (d *DecisionMaker) Failed(out DecisionCarrier, ep model.Endpoint, now time.Time) bool {
	st, ok := d.state[ep]
	if !ok {
		st = &decision{lastDiscovery: now.Add(-d.awaitTime)}
		d.state[ep] = st
	}

	if st.reported || now.Before(st.lastDiscovery.Add(d.failWindow)) {
		return false
	}

	st.reported = true
	out.LinkFailed(ep)
	return true
}

// Remove forgets ep.
func (d *DecisionMaker) Remove(ep model.Endpoint) {
	delete(d.state, ep)
}

func (d *DecisionMaker) lookup(ep model.Endpoint) *decision {
	st, ok := d.state[ep]
	if !ok {
		st = &decision{}
		d.state[ep] = st
	}
	return st
}
