// adper: Adherence and Persistence Analysis Library

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <https://www.gnu.org/licenses/>.

package cohort

import "sort"

// Flow tables for therapy-line transition diagrams. The rendering itself is
// external; this only builds the (source, target, count) table it consumes.

// Flow is one edge of the transition table: the number of patients moving
// from one therapy-line label to another, or from their final therapy to an
// outcome label.
type Flow struct {
	Source string
	Target string
	Count  int
}

// firstLabelPerLine maps, for one patient, each line index onto the label of
// the first dispensation in that line.
func firstLabelPerLine(p *Patient) map[int]string {
	labels := map[int]string{}
	for _, d := range p.Dispensations {
		if _, ok := labels[d.Line]; !ok {
			labels[d.Line] = TherapyLabel(d.Category, d.Line)
		}
	}
	return labels
}

// BuildFlows constructs the full transition table of a segmented cohort: one
// edge per (line i -> line i+1) pair of labels, plus one edge from each
// patient's last therapy label to their outcome label. Edges are ordered by
// source then target for deterministic output. Assumes lines have been
// assigned.
func BuildFlows(pMap *PatientMap, outcomes map[int]string) []Flow {
	counts := map[[2]string]int{}
	for _, p := range pMap.SortedPatients() {
		labels := firstLabelPerLine(p)
		maxLine := MaxLine(p)
		for i := 1; i < maxLine; i++ {
			src, ok1 := labels[i]
			dst, ok2 := labels[i+1]
			if ok1 && ok2 {
				counts[[2]string{src, dst}]++
			}
		}
		if len(p.Dispensations) > 0 {
			last := p.Dispensations[len(p.Dispensations)-1]
			counts[[2]string{TherapyLabel(last.Category, last.Line), outcomes[p.PID]}]++
		}
	}
	flows := make([]Flow, 0, len(counts))
	for key, count := range counts {
		flows = append(flows, Flow{Source: key[0], Target: key[1], Count: count})
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Source != flows[j].Source {
			return flows[i].Source < flows[j].Source
		}
		return flows[i].Target < flows[j].Target
	})
	return flows
}
