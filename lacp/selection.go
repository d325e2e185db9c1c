// selection
//
// Selection Logic, 802.1ax-2014 Section 6.4.14.1.  Runs once per tick per
// shim, after every port's Receive machine.
//
// Aggregation Ports that can aggregate together carry the same operational
// Key; an Aggregation Port only selects an Aggregator with the same Key.
// Ports that are members of the same LAG (same LAG ID) select the same
// Aggregator: the "preferred" Aggregator paired with the lowest-numbered
// member port, except that a group already attached to an Aggregator whose
// own port has left selection stays on it.  Where claiming the preferred Aggregator displaces ports of
// a different LAG ID, those ports are set UNSELECTED and reselect in turn.
// Ports whose group can obtain no matching Aggregator remain UNSELECTED;
// this is the dual-homing starvation case and is not an error.
package lacp

import (
	"sort"
)

type selGroup struct {
	lag   LagId
	ports []int // port arena indices, ascending
}

func (la *LinkAgg) runSelection() {
	la.wtrGroupRelease()

	// partition the eligible ports by LAG ID
	groups := make(map[LagId]*selGroup)
	for _, p := range la.AggPorts {
		if p.IppEnabled {
			continue
		}
		if !p.PortEnabled || !p.lacpEnabled {
			p.setSelected(LacpAggUnSelected)
			p.SelectedAggId = -1
			p.ready = false
			continue
		}
		id := p.LagId()
		g := groups[id]
		if g == nil {
			g = &selGroup{lag: id}
			groups[id] = g
		}
		g.ports = append(g.ports, p.Index)
	}

	// deterministic order: the group with the lowest member port first
	ordered := make([]*selGroup, 0, len(groups))
	for _, g := range groups {
		sort.Ints(g.ports)
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ports[0] < ordered[j].ports[0] })

	claimed := make(map[int]*selGroup)
	assigned := make(map[*selGroup]int)

	// first pass: every group tries the preferred Aggregator of its
	// lowest-numbered port.  Preferred Aggregators are distinct per lead
	// port, so first-pass claims never collide.
	for _, g := range ordered {
		lead := la.AggPorts[g.ports[0]]
		pref := la.Aggregators[lead.Index]
		// a group already attached elsewhere stays put while that
		// Aggregator's own port is out of selection, so losing the lowest
		// link does not detach the survivors
		if cur := lead.AttachedAggId; cur >= 0 && cur != pref.Index {
			a, own := la.Aggregators[cur], la.AggPorts[cur]
			_, taken := claimed[cur]
			if !taken && a.Enabled && a.ActorAdminKey == lead.ActorOper.Key &&
				(own.IppEnabled || !own.PortEnabled || !own.lacpEnabled) {
				claimed[cur] = g
				assigned[g] = cur
				continue
			}
		}
		if pref.Enabled && pref.ActorAdminKey == lead.ActorOper.Key {
			claimed[pref.Index] = g
			assigned[g] = pref.Index
		}
	}

	// second pass: key-mismatched groups fall back to the lowest-indexed
	// matching Aggregator that is unclaimed and either free or already
	// holding a member of the group.
	for _, g := range ordered {
		if _, ok := assigned[g]; ok {
			continue
		}
		lead := la.AggPorts[g.ports[0]]
		for _, a := range la.Aggregators {
			if !a.Enabled || a.ActorAdminKey != lead.ActorOper.Key {
				continue
			}
			if _, taken := claimed[a.Index]; taken {
				continue
			}
			if !la.aggFreeFor(a, g) {
				continue
			}
			claimed[a.Index] = g
			assigned[g] = a.Index
			break
		}
	}

	// apply: selection state per port, evicting foreign attachments
	processed := make(map[int]bool)
	for _, g := range ordered {
		aggIdx, ok := assigned[g]
		if !ok {
			for _, idx := range g.ports {
				p := la.AggPorts[idx]
				p.setSelected(LacpAggUnSelected)
				p.SelectedAggId = -1
				p.ready = false
				processed[idx] = true
			}
			continue
		}
		agg := la.Aggregators[aggIdx]
		// evict attached ports that are neither members of this group nor
		// already placed by an earlier (higher priority) group
		for _, idx := range append([]int(nil), agg.PortList...) {
			if !containsInt(g.ports, idx) && !processed[idx] {
				q := la.AggPorts[idx]
				if q.SelectedAggId == aggIdx || q.AttachedAggId == aggIdx {
					q.setSelected(LacpAggUnSelected)
					q.SelectedAggId = -1
				}
			}
		}
		for _, idx := range g.ports {
			p := la.AggPorts[idx]
			processed[idx] = true
			if p.AttachedAggId >= 0 && p.AttachedAggId != aggIdx {
				// migration detaches first; the port reselects on a
				// later tick once the mux is back in DETACHED
				p.setSelected(LacpAggUnSelected)
				p.SelectedAggId = aggIdx
				continue
			}
			p.SelectedAggId = aggIdx
			if p.wtrWaiting && p.NonRevertive() {
				p.setSelected(LacpAggStandby)
			} else {
				p.setSelected(LacpAggSelected)
			}
		}
		la.computeReady(g, aggIdx)
	}
}

// computeReady implements the group-wide Ready: every member past its
// wait-while.  Members still DETACHED this tick hold the group back so
// that links brought up together attach together.
func (la *LinkAgg) computeReady(g *selGroup, aggIdx int) {
	ready := true
	for _, idx := range g.ports {
		p := la.AggPorts[idx]
		if p.Selected() == LacpAggUnSelected {
			continue
		}
		switch p.MuxmState {
		case LacpMuxmStateWaiting:
			p.readyN = p.waitWhileTimer == 0
		case LacpMuxmStateDetached:
			p.readyN = false
		default:
			p.readyN = true
		}
		if !p.readyN {
			ready = false
		}
	}
	for _, idx := range g.ports {
		p := la.AggPorts[idx]
		if p.Selected() != LacpAggUnSelected {
			p.ready = ready
		}
	}
}

// aggFreeFor is true when the Aggregator holds no attached ports outside
// the group.
func (la *LinkAgg) aggFreeFor(a *LaAggregator, g *selGroup) bool {
	for _, idx := range a.PortList {
		if !containsInt(g.ports, idx) {
			return false
		}
	}
	return true
}

// wtrGroupRelease implements the non-revertive escape: when no port
// associated with an Aggregator both has carrier and is unheld, all the
// ports held non-revertive revert and proceed.  A port still without
// carrier re-arms when its link returns.
func (la *LinkAgg) wtrGroupRelease() {
	for _, agg := range la.Aggregators {
		var held []*LaAggPort
		blocked := false
		for _, p := range la.AggPorts {
			if p.IppEnabled {
				continue
			}
			// membership follows the last attachment: a reselecting port
			// transiently parked elsewhere still belongs to its LAG here
			if p.lastAggId != agg.Index {
				continue
			}
			if p.wtrWaiting && p.NonRevertive() {
				held = append(held, p)
			} else if p.PortEnabled {
				// an available member keeps the held ports waiting
				blocked = true
			}
		}
		if len(held) > 0 && !blocked {
			la.ctx.Log.Debugf("Time %d: Aggregator %d all ports non-revertive, reverting",
				la.ctx.Time, agg.AggId)
			for _, p := range held {
				p.wtrWaiting = false
				p.wtrTimer = 0
			}
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
