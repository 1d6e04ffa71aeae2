package model

import (
	"cmp"
	"slices"
	"time"
)

// -------------------------------------------------------------------------
// Statuses
// -------------------------------------------------------------------------

// LinkStatus is the administrative link status reported for a port.
type LinkStatus uint8

const (
	// LinkUnknown means no link status has been observed yet.
	LinkUnknown LinkStatus = iota
	// LinkUp means the port reported carrier.
	LinkUp
	// LinkDown means the port reported no carrier.
	LinkDown
)

// String returns the human-readable name of the link status.
func (s LinkStatus) String() string {
	switch s {
	case LinkUnknown:
		return "Unknown"
	case LinkUp:
		return "Up"
	case LinkDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// IslStatus is the persisted status of a link.
type IslStatus uint8

const (
	// IslActive is a link confirmed from both sides.
	IslActive IslStatus = iota + 1
	// IslInactive is a link that is known but not confirmed.
	IslInactive
	// IslMoved is a link whose remote end was discovered elsewhere.
	IslMoved
)

// String returns the human-readable name of the ISL status.
func (s IslStatus) String() string {
	switch s {
	case IslActive:
		return "Active"
	case IslInactive:
		return "Inactive"
	case IslMoved:
		return "Moved"
	default:
		return "Unknown"
	}
}

// ParseIslStatus maps a status name back to its value. Unknown names map to
// IslInactive.
func ParseIslStatus(s string) IslStatus {
	switch s {
	case "Active":
		return IslActive
	case "Moved":
		return IslMoved
	default:
		return IslInactive
	}
}

// -------------------------------------------------------------------------
// Facts
// -------------------------------------------------------------------------

// PortFacts is the switch controller's record of one port.
type PortFacts struct {
	Endpoint   Endpoint
	LinkStatus LinkStatus
}

// DiscoveryFacts is the measurement carried by a successful discovery. It
// names the full reference of the observed link.
type DiscoveryFacts struct {
	Reference IslReference
	Latency   time.Duration
}

// Isl is a link record as stored by the persistence layer. Source is the
// switch the record is attached to in warm-start history.
type Isl struct {
	Source Endpoint
	Dest   Endpoint
	Status IslStatus
}

// Reference returns the canonical reference of the record.
func (i Isl) Reference() IslReference {
	return NewIslReference(i.Source, i.Dest)
}

// BfdSession is a persisted BFD discriminator binding for a physical port.
type BfdSession struct {
	Endpoint      Endpoint
	Discriminator uint32
}

// -------------------------------------------------------------------------
// Switch History
// -------------------------------------------------------------------------

// SwitchHistory pre-seeds a switch controller at warm start. It is read-only
// once built.
type SwitchHistory struct {
	Switch         SwitchID
	OutgoingLinks  []Isl
	Discriminators map[uint32]uint32 // physical port -> discriminator
}

// BuildHistory groups persisted links and BFD bindings by their source switch.
//
// Records whose source switch is not in switches are orphans: they are
// returned separately so the caller can log them. The result is ordered by
// switch id; links within a switch are ordered by source port.
func BuildHistory(switches []SwitchID, isls []Isl, sessions []BfdSession) (histories []SwitchHistory, orphans []Isl) {
	index := make(map[SwitchID]*SwitchHistory, len(switches))
	for _, sw := range switches {
		if _, dup := index[sw]; dup {
			continue
		}
		index[sw] = &SwitchHistory{Switch: sw}
	}

	for _, isl := range isls {
		h, ok := index[isl.Source.Datapath]
		if !ok {
			orphans = append(orphans, isl)
			continue
		}
		h.OutgoingLinks = append(h.OutgoingLinks, isl)
	}

	for _, s := range sessions {
		h, ok := index[s.Endpoint.Datapath]
		if !ok || s.Discriminator == 0 {
			continue
		}
		if h.Discriminators == nil {
			h.Discriminators = make(map[uint32]uint32)
		}
		h.Discriminators[s.Endpoint.Port] = s.Discriminator
	}

	histories = make([]SwitchHistory, 0, len(index))
	for _, h := range index {
		slices.SortFunc(h.OutgoingLinks, func(a, b Isl) int {
			return a.Source.Compare(b.Source)
		})
		histories = append(histories, *h)
	}
	slices.SortFunc(histories, func(a, b SwitchHistory) int {
		return cmp.Compare(a.Switch, b.Switch)
	})

	return histories, orphans
}
