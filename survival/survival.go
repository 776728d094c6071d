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

package survival

import (
	"sort"

	"adper/cohort"
	"adper/utils"

	"github.com/exascience/pargo/parallel"
)

// Persistence analysis: per-patient time/event records under a fixed
// follow-up window, Kaplan-Meier curves per stratification group, and a
// Mantel-Cox log-rank test across groups.

// Inclusion reasons recorded on persistence records.
const (
	ReasonEvent    = "Evento entro cutoff"
	ReasonCensored = "Censura (persistente >= periodo)"
	ReasonExcluded = "Escluso (follow-up insufficiente e nessun evento)"
)

// Record is the per-patient persistence outcome. Time counts days from the
// first dispensation, truncated to the observation period; Event is 1 when a
// therapy interruption was observed within the cutoff and 0 when the patient
// was censored. Excluded patients (Included false) contribute nothing to
// curves or tests but stay in the table for reporting.
type Record struct {
	PID          int
	PIDString    string
	Group        string
	Start        cohort.DispensationDate
	Last         cohort.DispensationDate
	ObservedLast cohort.DispensationDate
	ObservedDays int
	Time         int
	Event        int
	Included     bool
	Reason       string
}

// buildRecord classifies one patient. The three-way rule must be evaluated in
// this order: an event is only recognized when the whole history fits within
// the cutoff and the observed span is shorter than the period; otherwise a
// span reaching the period censors the patient; anything else has
// insufficient follow-up and is excluded.
func buildRecord(p *cohort.Patient, period int, cutoff cohort.DispensationDate) Record {
	start, _ := p.FirstDate()
	last, _ := p.LastDate()
	observedLast := cohort.MinDate(last, cutoff)
	observedDays := cohort.DaysBetween(start, observedLast)
	record := Record{
		PID:          p.PID,
		PIDString:    p.PIDString,
		Group:        cohort.ModeStrat(p),
		Start:        start,
		Last:         last,
		ObservedLast: observedLast,
		ObservedDays: observedDays,
	}
	if cohort.DispensationDateSmallerEqual(last, cutoff) && observedDays < period {
		record.Included = true
		record.Event = 1
		record.Reason = ReasonEvent
	} else if observedDays >= period {
		record.Included = true
		record.Event = 0
		record.Reason = ReasonCensored
	} else {
		record.Included = false
		record.Event = 0
		record.Reason = ReasonExcluded
	}
	record.Time = utils.MinInt(observedDays, period)
	if record.Time < 0 {
		record.Time = 0
	}
	return record
}

// BuildRecords classifies every patient of a cohort. Patients are independent
// and are classified in parallel; the result is ordered by PID. Patients
// without dispensations are skipped. Assumes sorted dispensations.
func BuildRecords(pMap *cohort.PatientMap, period int, cutoff cohort.DispensationDate) []Record {
	patients := pMap.SortedPatients()
	result := parallel.RangeReduce(0, len(patients), 0, func(low, high int) interface{} {
		records := []Record{}
		for _, p := range patients[low:high] {
			if len(p.Dispensations) == 0 {
				continue
			}
			records = append(records, buildRecord(p, period, cutoff))
		}
		return records
	}, func(result1, result2 interface{}) interface{} {
		r1 := result1.([]Record)
		r2 := result2.([]Record)
		return append(r1, r2...)
	})
	records := result.([]Record)
	sort.Slice(records, func(i, j int) bool {
		return records[i].PID < records[j].PID
	})
	return records
}

// Included returns only the records that passed the inclusion rule.
func Included(records []Record) []Record {
	included := []Record{}
	for _, r := range records {
		if r.Included {
			included = append(included, r)
		}
	}
	return included
}

// CurvePoint is one step of a Kaplan-Meier curve.
type CurvePoint struct {
	Time     int
	Survival float64
}

// Curve is the Kaplan-Meier step curve of one group: survival starts at
// (0, 1.0), is non-increasing, changes only at event times, and extends flat
// to the end of the observation period.
type Curve struct {
	Group  string
	Points []CurvePoint
}

// KMCurve estimates the Kaplan-Meier curve from the included records of one
// group. Censorings remove patients from the risk set without a survival
// step.
func KMCurve(group string, records []Record, period int) Curve {
	times := []Record{}
	for _, r := range records {
		if r.Time >= 0 {
			times = append(times, r)
		}
	}
	sort.Slice(times, func(i, j int) bool {
		return times[i].Time < times[j].Time
	})
	s := 1.0
	points := []CurvePoint{{Time: 0, Survival: 1.0}}
	atRisk := len(times)
	i := 0
	for i < len(times) {
		t := times[i].Time
		if t > period {
			break
		}
		d := 0
		c := 0
		for i < len(times) && times[i].Time == t {
			if times[i].Event == 1 {
				d++
			} else {
				c++
			}
			i++
		}
		if d > 0 && atRisk > 0 {
			s *= float64(atRisk-d) / float64(atRisk)
		}
		atRisk -= d + c
		points = append(points, CurvePoint{Time: t, Survival: s})
	}
	if points[len(points)-1].Time < period {
		points = append(points, CurvePoint{Time: period, Survival: s})
	}
	return Curve{Group: group, Points: points}
}

// Groups returns the sorted distinct group labels of a record set.
func Groups(records []Record) []string {
	seen := map[string]bool{}
	groups := []string{}
	for _, r := range records {
		if !seen[r.Group] {
			seen[r.Group] = true
			groups = append(groups, r.Group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Curves estimates one Kaplan-Meier curve per group from the included
// records.
func Curves(records []Record, period int) map[string]Curve {
	included := Included(records)
	curves := map[string]Curve{}
	for _, group := range Groups(included) {
		groupRecords := []Record{}
		for _, r := range included {
			if r.Group == group {
				groupRecords = append(groupRecords, r)
			}
		}
		curves[group] = KMCurve(group, groupRecords, period)
	}
	return curves
}
