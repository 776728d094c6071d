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

import (
	"sort"
	"time"
)

// DispensationDate represents the date of a drug dispensation, with fields for
// representing the year, month, and day of dispensation.
type DispensationDate struct {
	Year, Month, Day int
}

func DispensationDateSmallerThan(d1, d2 DispensationDate) bool {
	if d1.Year < d2.Year {
		return true
	}
	if d1.Year > d2.Year {
		return false
	}
	if d1.Month < d2.Month {
		return true
	}
	if d1.Month > d2.Month {
		return false
	}
	if d1.Day < d2.Day {
		return true
	}
	return false
}

func dispensationDateEqual(d1, d2 DispensationDate) bool {
	return d1.Year == d2.Year && d1.Month == d2.Month && d1.Day == d2.Day
}

// DispensationDateSmallerEqual checks d1 <= d2 in calendar order.
func DispensationDateSmallerEqual(d1, d2 DispensationDate) bool {
	return DispensationDateSmallerThan(d1, d2) || dispensationDateEqual(d1, d2)
}

// MinDate returns the earlier of two dates.
func MinDate(d1, d2 DispensationDate) DispensationDate {
	if DispensationDateSmallerThan(d2, d1) {
		return d2
	}
	return d1
}

// dayNumber converts a date to a count of days since the Unix epoch, so that
// differences between dates can be computed in days.
func dayNumber(d DispensationDate) int {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return int(t.Unix() / 86400)
}

// DaysBetween returns the number of days from d1 to d2. Negative when d2
// precedes d1.
func DaysBetween(d1, d2 DispensationDate) int {
	return dayNumber(d2) - dayNumber(d1)
}

// AddDays returns the date n days after d.
func AddDays(d DispensationDate, n int) DispensationDate {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	t = t.AddDate(0, 0, n)
	return DispensationDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// Dispensation represents a single dispensation event for a patient. Amount is
// the dispensed quantity in DDD units; DaysCovered is derived from Amount and
// the standard daily dose of the dispensed category (cf. adherence package).
// Line is filled in by line segmentation. Strat carries the value of the
// stratification variable for this row; it defaults to Category when the
// input has no separate stratification column.
type Dispensation struct {
	PID         int
	Seq         int //position of the row in the input, before any sorting
	Category    string
	Key         string //join key into the standard daily dose lookup
	Strat       string
	Date        DispensationDate
	Amount      float64
	DaysCovered float64
	Line        int
}

// Patient represents a patient and their full dispensation history, sorted by
// date < after SortDispensations.
type Patient struct {
	PID           int    //analysis ID
	PIDString     string //ID from the input data
	Dispensations []*Dispensation
}

// AddDispensation appends a dispensation to a patient's history.
func AddDispensation(p *Patient, d *Dispensation) {
	p.Dispensations = append(p.Dispensations, d)
}

// SortDispensations modifies a given patient's dispensation list to be ordered
// by date. The sort is stable so that same-day rows keep their input order.
func SortDispensations(p *Patient) {
	dispensations := p.Dispensations
	sort.SliceStable(dispensations, func(i, j int) bool {
		return DispensationDateSmallerThan(dispensations[i].Date, dispensations[j].Date)
	})
}

// FirstDate returns the date of a patient's earliest dispensation. The second
// return value is false for a patient without dispensations. Assumes sorted
// dispensations.
func (p *Patient) FirstDate() (DispensationDate, bool) {
	if len(p.Dispensations) == 0 {
		return DispensationDate{}, false
	}
	return p.Dispensations[0].Date, true
}

// LastDate returns the date of a patient's latest dispensation. The second
// return value is false for a patient without dispensations. Assumes sorted
// dispensations.
func (p *Patient) LastDate() (DispensationDate, bool) {
	if len(p.Dispensations) == 0 {
		return DispensationDate{}, false
	}
	return p.Dispensations[len(p.Dispensations)-1].Date, true
}

// PatientMap contains all patient information parsed from the input.
type PatientMap struct {
	PIDStringMap map[string]int   //maps patient string id onto an int PID
	Ctr          int              //total nr of patients parsed, also used for creating PIDs
	PIDMap       map[int]*Patient //maps PID onto a patient object
}

// NewPatientMap creates an empty patient map.
func NewPatientMap() *PatientMap {
	return &PatientMap{PIDStringMap: map[string]int{}, PIDMap: map[int]*Patient{}}
}

// GetPatient retrieves from a patient map the patient object associated with a
// given patient ID. The patient ID is passed as a string and refers to the PID
// that occurs in the input.
func GetPatient(pidString string, patients *PatientMap) (*Patient, bool) {
	pid, ok := patients.PIDStringMap[pidString]
	if !ok {
		return &Patient{}, false
	}
	patient, ok := patients.PIDMap[pid]
	return patient, ok
}

// Intern returns the patient object for a string ID, creating and registering
// a fresh one when the ID has not been seen before.
func (patients *PatientMap) Intern(pidString string) *Patient {
	if pid, ok := patients.PIDStringMap[pidString]; ok {
		return patients.PIDMap[pid]
	}
	patients.Ctr++ // avoid using 0 as PID
	pid := patients.Ctr
	patient := &Patient{PID: pid, PIDString: pidString, Dispensations: []*Dispensation{}}
	patients.PIDMap[pid] = patient
	patients.PIDStringMap[pidString] = pid
	return patient
}

// SortedPatients returns the patients of a map as a slice ordered by PID, for
// deterministic iteration and for dividing work over parallel ranges.
func (patients *PatientMap) SortedPatients() []*Patient {
	result := make([]*Patient, 0, len(patients.PIDMap))
	for _, p := range patients.PIDMap {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PID < result[j].PID
	})
	return result
}

// ModeValue returns the most frequent value in a list of strings. Ties are
// broken by order of first appearance in the list. Returns the empty string
// for an empty list.
func ModeValue(values []string) string {
	counts := map[string]int{}
	order := []string{}
	for _, v := range values {
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	best := ""
	bestCount := 0
	for _, v := range order {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}

// modeOf computes the mode of a per-dispensation attribute. Ties must be
// resolved against the order rows had in the input, not the date-sorted order,
// so rows are walked by their input sequence number.
func modeOf(p *Patient, attribute func(*Dispensation) string) string {
	ds := make([]*Dispensation, len(p.Dispensations))
	copy(ds, p.Dispensations)
	sort.SliceStable(ds, func(i, j int) bool {
		return ds[i].Seq < ds[j].Seq
	})
	values := make([]string, len(ds))
	for i, d := range ds {
		values[i] = attribute(d)
	}
	return ModeValue(values)
}

// ModeCategory returns the most frequent therapeutic category in a patient's
// dispensation history, ties broken by first appearance in the input.
func ModeCategory(p *Patient) string {
	return modeOf(p, func(d *Dispensation) string { return d.Category })
}

// ModeStrat returns the most frequent stratification value in a patient's
// dispensation history, ties broken by first appearance in the input.
func ModeStrat(p *Patient) string {
	return modeOf(p, func(d *Dispensation) string { return d.Strat })
}
