// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package schema

import "sort"

// JoinPlan computes the deterministic materialization order for a
// workflow's data collections: every join target is ordered before the
// collection that joins against it (Kahn's algorithm), with ties broken by
// declaration order. A cycle yields a JoinResolutionError listing the
// collections involved.
//
// The plan covers all Table collections, joined or not, so the aggregator
// can simply walk it.
func JoinPlan(w *Workflow) ([]*DataCollection, error) {
	indexOf := make(map[string]int, len(w.DataCollections))
	for i, dc := range w.DataCollections {
		indexOf[dc.Tag] = i
	}

	// indegree counts unmaterialized join targets; dependents[target] lists
	// the collections waiting on it.
	indegree := make(map[string]int, len(w.DataCollections))
	dependents := make(map[string][]string)
	for _, dc := range w.DataCollections {
		if _, ok := indegree[dc.Tag]; !ok {
			indegree[dc.Tag] = 0
		}
		if dc.Join == nil {
			continue
		}
		for _, target := range dc.Join.WithDC {
			indegree[dc.Tag]++
			dependents[target] = append(dependents[target], dc.Tag)
		}
	}

	ready := make([]string, 0, len(w.DataCollections))
	for _, dc := range w.DataCollections {
		if indegree[dc.Tag] == 0 {
			ready = append(ready, dc.Tag)
		}
	}

	plan := make([]*DataCollection, 0, len(w.DataCollections))
	for len(ready) > 0 {
		// Declaration order as tie-break keeps the plan deterministic.
		sort.Slice(ready, func(i, j int) bool { return indexOf[ready[i]] < indexOf[ready[j]] })
		tag := ready[0]
		ready = ready[1:]

		dc, _ := w.Collection(tag)
		plan = append(plan, dc)

		for _, dep := range dependents[tag] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(plan) != len(w.DataCollections) {
		var cycle []string
		for _, dc := range w.DataCollections {
			if indegree[dc.Tag] > 0 {
				cycle = append(cycle, dc.Tag)
			}
		}
		return nil, &JoinResolutionError{Workflow: w.Name, Cycle: cycle}
	}
	return plan, nil
}
