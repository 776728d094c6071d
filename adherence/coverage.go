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

package adherence

import (
	"adper/cohort"
)

// DoseTable maps a lookup key (typically the ATC code) onto the standard
// daily dose of that category. Entries with a dose <= 0 are unusable and are
// treated the same as missing entries.
type DoseTable map[string]float64

// MissingDosePolicy decides what happens to dispensation rows whose key has
// no usable standard daily dose.
type MissingDosePolicy int

const (
	// DropMissing removes such rows from the patient's history.
	DropMissing MissingDosePolicy = iota
	// ZeroFillMissing keeps such rows with a zero days-covered contribution.
	ZeroFillMissing
)

// CoverageReport tells the caller what happened during coverage computation.
// MissingDose counts the rows without a usable standard dose; Policy records
// how those rows were handled. No row is ever silently lost.
type CoverageReport struct {
	Rows        int //rows seen
	MissingDose int //rows without a usable standard daily dose
	Policy      MissingDosePolicy
}

// ComputeCoverage fills in DaysCovered = Amount / standard daily dose for
// every dispensation of every patient. Negative amounts contribute 0 covered
// days. Rows without a usable dose are dropped or zero-filled per policy; the
// returned report carries the affected row count either way.
func ComputeCoverage(pMap *cohort.PatientMap, doses DoseTable, policy MissingDosePolicy) CoverageReport {
	report := CoverageReport{Policy: policy}
	for _, p := range pMap.PIDMap {
		kept := p.Dispensations[:0]
		for _, d := range p.Dispensations {
			report.Rows++
			std, ok := doses[d.Key]
			if !ok || std <= 0 {
				report.MissingDose++
				if policy == DropMissing {
					continue
				}
				d.DaysCovered = 0
				kept = append(kept, d)
				continue
			}
			amount := d.Amount
			if amount < 0 {
				amount = 0
			}
			d.DaysCovered = amount / std
			kept = append(kept, d)
		}
		p.Dispensations = kept
	}
	return report
}

// DedupSameDay merges, per patient, dispensations of the same (category, key,
// date) into a single row with the summed days covered, to avoid double
// counting multi-row dispensations of a single day. Call after
// ComputeCoverage. Assumes sorted dispensations; preserves order.
func DedupSameDay(pMap *cohort.PatientMap) {
	type dayKey struct {
		category string
		key      string
		date     cohort.DispensationDate
	}
	for _, p := range pMap.PIDMap {
		merged := map[dayKey]*cohort.Dispensation{}
		newD := []*cohort.Dispensation{}
		for _, d := range p.Dispensations {
			k := dayKey{category: d.Category, key: d.Key, date: d.Date}
			if first, ok := merged[k]; ok {
				first.DaysCovered += d.DaysCovered
				first.Amount += d.Amount
				continue
			}
			merged[k] = d
			newD = append(newD, d)
		}
		p.Dispensations = newD
	}
}
