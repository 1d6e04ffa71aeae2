package store

import (
	"cmp"
	"slices"

	"github.com/dantte-lp/gotopo/internal/model"
)

// Datapath ids are stored as signed integers, so ordering is applied after
// loading rather than in SQL.

func sortSwitches(ids []model.SwitchID) {
	slices.Sort(ids)
}

func sortIsls(isls []model.Isl) {
	slices.SortFunc(isls, func(a, b model.Isl) int {
		return cmp.Or(a.Source.Compare(b.Source), a.Dest.Compare(b.Dest))
	})
}

func sortSessions(sessions []model.BfdSession) {
	slices.SortFunc(sessions, func(a, b model.BfdSession) int {
		return a.Endpoint.Compare(b.Endpoint)
	})
}
