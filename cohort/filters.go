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

// PatientFilter prescribes a function type for implementing filters on
// patients, to be able to restrict analyses to specific cohorts. E.g. patients
// naive at an index date, patients with at least one dispensation, etc.
type PatientFilter func(patient *Patient) bool

func ApplyPatientFilter(filter PatientFilter, pMap *PatientMap) *PatientMap {
	return ApplyPatientFilters([]PatientFilter{filter}, pMap)
}

func ApplyPatientFilters(filters []PatientFilter, pMap *PatientMap) *PatientMap {
	newPMap := &PatientMap{PIDStringMap: map[string]int{}, PIDMap: map[int]*Patient{}, Ctr: pMap.Ctr}
	for pid, p := range pMap.PIDMap {
		res := true
		for _, filter := range filters {
			res = filter(p) && res
			if !res {
				break
			}
		}
		if res {
			newPMap.PIDStringMap[p.PIDString] = pid
			newPMap.PIDMap[pid] = p
		}
	}
	return newPMap
}

// NonEmptyFilter removes patients without any dispensation left after earlier
// filtering steps.
func NonEmptyFilter() PatientFilter {
	return func(p *Patient) bool {
		return len(p.Dispensations) > 0
	}
}

// NaiveFilter keeps only treatment-naive patients: patients whose first
// dispensation falls on or after the index date. Assumes sorted
// dispensations.
func NaiveFilter(indexDate DispensationDate) PatientFilter {
	return func(p *Patient) bool {
		first, ok := p.FirstDate()
		if !ok {
			return false
		}
		return !DispensationDateSmallerThan(first, indexDate)
	}
}

// NaiveByCategoryFilter keeps, per patient, only the dispensations of
// categories whose first dispensation for that patient falls on or after the
// index date. Patients left without dispensations are removed. Assumes sorted
// dispensations.
func NaiveByCategoryFilter(indexDate DispensationDate) PatientFilter {
	return func(p *Patient) bool {
		firstSeen := map[string]DispensationDate{}
		for _, d := range p.Dispensations {
			if _, ok := firstSeen[d.Category]; !ok {
				firstSeen[d.Category] = d.Date
			}
		}
		newD := []*Dispensation{}
		for _, d := range p.Dispensations {
			if !DispensationDateSmallerThan(firstSeen[d.Category], indexDate) {
				newD = append(newD, d)
			}
		}
		p.Dispensations = newD
		return len(newD) > 0
	}
}

// Outcome labels assigned by ClassifyOutcome.
const (
	OutcomeInTreatment  = "In trattamento"
	OutcomeLostFollowUp = "Perso al follow-up"
)

// ClassifyOutcome labels a patient's final status by comparing their last
// dispensation date to the follow-up cutoff: still in treatment when the last
// dispensation falls on or after the cutoff, lost to follow-up otherwise.
func ClassifyOutcome(p *Patient, followupCutoff DispensationDate) string {
	last, ok := p.LastDate()
	if !ok {
		return OutcomeLostFollowUp
	}
	if !DispensationDateSmallerThan(last, followupCutoff) {
		return OutcomeInTreatment
	}
	return OutcomeLostFollowUp
}

// ClassifyOutcomes labels every patient in a map. The result maps PID onto an
// outcome label.
func ClassifyOutcomes(pMap *PatientMap, followupCutoff DispensationDate) map[int]string {
	outcomes := map[int]string{}
	for pid, p := range pMap.PIDMap {
		outcomes[pid] = ClassifyOutcome(p, followupCutoff)
	}
	return outcomes
}
