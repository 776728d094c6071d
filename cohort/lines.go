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

import "fmt"

// Therapy line segmentation. A patient's dispensation history is cut into
// successive therapy lines based on the dispensed therapeutic category. Two
// rules are supported:
//
// ChangePoint opens a new line on every category change, so a category that
// resurfaces after a detour gets a new, higher line number each time.
//
// FirstSeen assigns a line number the first time a category is ever seen for
// the patient; a recurring category keeps its original line number, which
// models resumption of an earlier therapy without a line bump.

type SegmentationRule int

const (
	ChangePoint SegmentationRule = iota
	FirstSeen
)

// CollapseConsecutiveRepeats removes immediately-repeated dispensations of the
// same category from a patient's history, keeping the first row of each run.
// Optional pre-pass before FirstSeen segmentation. Assumes sorted
// dispensations.
func CollapseConsecutiveRepeats(p *Patient) {
	if len(p.Dispensations) > 1 {
		dispensations := p.Dispensations
		cur := dispensations[0]
		newDispensations := []*Dispensation{cur}
		for _, d := range dispensations[1:] {
			if d.Category != cur.Category {
				cur = d
				newDispensations = append(newDispensations, cur)
			}
		}
		p.Dispensations = newDispensations
	}
}

// AssignLines labels every dispensation of a patient with a 1-based therapy
// line index according to the given segmentation rule. Assumes sorted
// dispensations.
func AssignLines(p *Patient, rule SegmentationRule) {
	switch rule {
	case ChangePoint:
		line := 0
		prev := ""
		for i, d := range p.Dispensations {
			if i == 0 || d.Category != prev {
				line++
			}
			d.Line = line
			prev = d.Category
		}
	case FirstSeen:
		seen := map[string]int{}
		k := 0
		for _, d := range p.Dispensations {
			if _, ok := seen[d.Category]; !ok {
				k++
				seen[d.Category] = k
			}
			d.Line = seen[d.Category]
		}
	}
}

// TherapyLabel produces the human-readable therapy-line label used by the flow
// diagram builder.
func TherapyLabel(category string, line int) string {
	return fmt.Sprintf("%s (Linea %d)", category, line)
}

// LineRecord is one row of the therapy line table: a dispensation with its
// assigned line index and label.
type LineRecord struct {
	PID       int
	PIDString string
	Line      int
	Category  string
	Date      DispensationDate
}

// Label returns the therapy-line label for a line record.
func (r LineRecord) Label() string {
	return TherapyLabel(r.Category, r.Line)
}

// SegmentLines runs line segmentation over a whole cohort and returns the
// resulting line table, ordered by PID and date. With collapseRepeats set,
// immediately-repeated categories are removed per patient before
// segmentation. An empty cohort yields an empty table; the caller decides
// whether that is a reportable condition.
func SegmentLines(pMap *PatientMap, rule SegmentationRule, collapseRepeats bool) []LineRecord {
	records := []LineRecord{}
	for _, p := range pMap.SortedPatients() {
		SortDispensations(p)
		if collapseRepeats {
			CollapseConsecutiveRepeats(p)
		}
		AssignLines(p, rule)
		for _, d := range p.Dispensations {
			records = append(records, LineRecord{
				PID:       p.PID,
				PIDString: p.PIDString,
				Line:      d.Line,
				Category:  d.Category,
				Date:      d.Date,
			})
		}
	}
	return records
}

// MaxLine returns the highest line index assigned to a patient, or 0 for a
// patient without dispensations.
func MaxLine(p *Patient) int {
	max := 0
	for _, d := range p.Dispensations {
		if d.Line > max {
			max = d.Line
		}
	}
	return max
}
