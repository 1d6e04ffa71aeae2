package topology_test

import (
	"fmt"
	"time"

	"github.com/dantte-lp/gotopo/internal/message"
	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/topology"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func ep(sw uint64, port uint32) model.Endpoint {
	return model.NewEndpoint(model.SwitchID(sw), port)
}

// recorder implements every controller carrier and records calls as short
// strings so tests can compare exact emission order.
type recorder struct {
	calls   []string
	changes []topology.IslStateChange
	creates []message.CreateBfdSession
	removes []message.RemoveBfdSession
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) reset() {
	r.calls = nil
	r.changes = nil
	r.creates = nil
	r.removes = nil
}

// SwitchCarrier.

func (r *recorder) SetupPortHandler(facts model.PortFacts, history *model.Isl) {
	if history != nil {
		r.add("setup-port %s history=%s", facts.Endpoint, history.Dest)
		return
	}
	r.add("setup-port %s", facts.Endpoint)
}

func (r *recorder) RemovePortHandler(e model.Endpoint) { r.add("remove-port %s", e) }

func (r *recorder) SetOnlineMode(e model.Endpoint, online bool) {
	r.add("online %s %t", e, online)
}

func (r *recorder) SetPortLinkMode(e model.Endpoint, status model.LinkStatus) {
	r.add("link %s %s", e, status)
}

func (r *recorder) SetupBfdPortHandler(e model.Endpoint, logicalPort, discriminator uint32) {
	r.add("setup-bfd %s logical=%d discr=%d", e, logicalPort, discriminator)
}

func (r *recorder) RemoveBfdPortHandler(e model.Endpoint) { r.add("remove-bfd %s", e) }

func (r *recorder) SetBfdPortLinkMode(e model.Endpoint, status model.LinkStatus) {
	r.add("bfd-link %s %s", e, status)
}

// PortCarrier.

func (r *recorder) SetupUniIslHandler(e model.Endpoint, _ *model.Isl) { r.add("setup-uniisl %s", e) }
func (r *recorder) RemoveUniIslHandler(e model.Endpoint)              { r.add("remove-uniisl %s", e) }
func (r *recorder) EnableDiscoveryPoll(e model.Endpoint)              { r.add("poll-on %s", e) }
func (r *recorder) DisableDiscoveryPoll(e model.Endpoint)             { r.add("poll-off %s", e) }
func (r *recorder) NotifyPortPhysicalDown(e model.Endpoint)           { r.add("physical-down %s", e) }

// UniIslCarrier.

func (r *recorder) NotifyIslUp(e model.Endpoint, facts model.DiscoveryFacts) {
	r.add("isl-up %s %s", e, facts.Reference)
}

func (r *recorder) NotifyIslDown(e model.Endpoint, ref model.IslReference) {
	r.add("isl-down %s %s", e, ref)
}

func (r *recorder) NotifyIslMove(e model.Endpoint, ref model.IslReference) {
	r.add("isl-move %s %s", e, ref)
}

// IslCarrier.

func (r *recorder) PersistIslStatus(ref model.IslReference, status model.IslStatus) {
	r.add("persist %s %s", ref, status)
}

func (r *recorder) NotifyBiIslUp(e model.Endpoint, _ model.IslReference)   { r.add("bi-up %s", e) }
func (r *recorder) NotifyBiIslMove(e model.Endpoint, _ model.IslReference) { r.add("bi-move %s", e) }

func (r *recorder) IslStateChanged(change topology.IslStateChange) {
	r.changes = append(r.changes, change)
}

// BfdPortCarrier.

func (r *recorder) CreateBfdSession(cmd message.CreateBfdSession) {
	r.creates = append(r.creates, cmd)
	r.add("bfd-create %s discr=%d", cmd.Endpoint, cmd.Discriminator)
}

func (r *recorder) RemoveBfdSession(cmd message.RemoveBfdSession) {
	r.removes = append(r.removes, cmd)
	r.add("bfd-remove %s discr=%d", cmd.Endpoint, cmd.Discriminator)
}

func (r *recorder) NotifyBfdUp(e model.Endpoint)   { r.add("bfd-up %s", e) }
func (r *recorder) NotifyBfdDown(e model.Endpoint) { r.add("bfd-down %s", e) }

func (r *recorder) SaveDiscriminator(e model.Endpoint, discriminator uint32) {
	r.add("save-discr %s %d", e, discriminator)
}

func (r *recorder) ClearDiscriminator(e model.Endpoint) { r.add("clear-discr %s", e) }

// countingMetrics records transitions per controller.
type countingMetrics struct {
	transitions []string
}

func (m *countingMetrics) RecordTransition(controller, from, to string) {
	m.transitions = append(m.transitions, controller+":"+from+"->"+to)
}
