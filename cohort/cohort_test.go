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

package cohort_test

import (
	"testing"

	"adper/cohort"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) cohort.DispensationDate {
	return cohort.DispensationDate{Year: y, Month: m, Day: d}
}

// makeFakePatient creates a patient with one dispensation per category, one
// month apart, starting January 2022.
func makeFakePatient(pMap *cohort.PatientMap, pidString string, categories ...string) *cohort.Patient {
	p := pMap.Intern(pidString)
	for i, c := range categories {
		cohort.AddDispensation(p, &cohort.Dispensation{
			PID:      p.PID,
			Seq:      i,
			Category: c,
			Key:      c,
			Strat:    c,
			Date:     date(2022, 1+i, 1),
			Amount:   30.0,
		})
	}
	cohort.SortDispensations(p)
	return p
}

func lineNumbers(p *cohort.Patient) []int {
	lines := make([]int, len(p.Dispensations))
	for i, d := range p.Dispensations {
		lines[i] = d.Line
	}
	return lines
}

func TestDateArithmetic(t *testing.T) {
	assert.Equal(t, 31, cohort.DaysBetween(date(2022, 1, 1), date(2022, 2, 1)))
	assert.Equal(t, -31, cohort.DaysBetween(date(2022, 2, 1), date(2022, 1, 1)))
	assert.Equal(t, 365, cohort.DaysBetween(date(2022, 1, 1), date(2023, 1, 1)))
	assert.Equal(t, date(2022, 3, 2), cohort.AddDays(date(2022, 2, 25), 5))
	assert.True(t, cohort.DispensationDateSmallerThan(date(2021, 12, 31), date(2022, 1, 1)))
	assert.True(t, cohort.DispensationDateSmallerEqual(date(2022, 1, 1), date(2022, 1, 1)))
	assert.Equal(t, date(2021, 5, 1), cohort.MinDate(date(2022, 1, 1), date(2021, 5, 1)))
}

func TestChangePointSegmentation(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := makeFakePatient(pMap, "p1", "A", "B", "A")
	cohort.AssignLines(p, cohort.ChangePoint)
	// a category that resurfaces opens a new line
	assert.Equal(t, []int{1, 2, 3}, lineNumbers(p))
}

func TestFirstSeenSegmentation(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := makeFakePatient(pMap, "p1", "A", "B", "A", "C")
	cohort.AssignLines(p, cohort.FirstSeen)
	// a recurring category keeps its original line number
	assert.Equal(t, []int{1, 2, 1, 3}, lineNumbers(p))
	assert.Equal(t, 3, cohort.MaxLine(p))
}

func TestFirstSeenLineCountEqualsDistinctCategories(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := makeFakePatient(pMap, "p1", "A", "B", "A", "B", "C", "A")
	cohort.AssignLines(p, cohort.FirstSeen)
	assert.Equal(t, 3, cohort.MaxLine(p))
}

func TestCollapseConsecutiveRepeats(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := makeFakePatient(pMap, "p1", "A", "A", "B", "B", "A")
	cohort.CollapseConsecutiveRepeats(p)
	require.Len(t, p.Dispensations, 3)
	assert.Equal(t, "A", p.Dispensations[0].Category)
	assert.Equal(t, "B", p.Dispensations[1].Category)
	assert.Equal(t, "A", p.Dispensations[2].Category)
	// the first row of each run survives
	assert.Equal(t, date(2022, 1, 1), p.Dispensations[0].Date)
	assert.Equal(t, date(2022, 3, 1), p.Dispensations[1].Date)
}

func TestSegmentLinesTable(t *testing.T) {
	pMap := cohort.NewPatientMap()
	makeFakePatient(pMap, "p1", "A", "A", "B")
	makeFakePatient(pMap, "p2", "B")
	records := cohort.SegmentLines(pMap, cohort.ChangePoint, true)
	require.Len(t, records, 3)
	assert.Equal(t, "p1", records[0].PIDString)
	assert.Equal(t, "A (Linea 1)", records[0].Label())
	assert.Equal(t, "B (Linea 2)", records[1].Label())
	assert.Equal(t, "B (Linea 1)", records[2].Label())
}

func TestModeCategoryTieBreaksOnInputOrder(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := pMap.Intern("p1")
	// tie between A and B; B appears first in the input but its rows sort
	// later by date, so the tie-break must look at input order
	rows := []struct {
		category string
		date     cohort.DispensationDate
	}{
		{"B", date(2022, 6, 1)},
		{"A", date(2022, 1, 1)},
		{"B", date(2022, 7, 1)},
		{"A", date(2022, 2, 1)},
	}
	for i, r := range rows {
		cohort.AddDispensation(p, &cohort.Dispensation{
			PID: p.PID, Seq: i, Category: r.category, Strat: r.category, Date: r.date,
		})
	}
	cohort.SortDispensations(p)
	assert.Equal(t, "B", cohort.ModeCategory(p))
	assert.Equal(t, "B", cohort.ModeStrat(p))
}

func TestModeValue(t *testing.T) {
	assert.Equal(t, "x", cohort.ModeValue([]string{"y", "x", "x"}))
	assert.Equal(t, "y", cohort.ModeValue([]string{"y", "x", "x", "y"}))
	assert.Equal(t, "", cohort.ModeValue(nil))
}

func TestNaiveFilter(t *testing.T) {
	pMap := cohort.NewPatientMap()
	makeFakePatient(pMap, "old", "A")             // first dispensation 2022-01-01
	p := makeFakePatient(pMap, "naive", "B", "B") // also 2022-01-01
	p.Dispensations[0].Date = date(2022, 3, 15)
	p.Dispensations[1].Date = date(2022, 4, 15)
	filtered := cohort.ApplyPatientFilter(cohort.NaiveFilter(date(2022, 2, 1)), pMap)
	assert.Len(t, filtered.PIDMap, 1)
	_, ok := cohort.GetPatient("naive", filtered)
	assert.True(t, ok)
	_, ok = cohort.GetPatient("old", filtered)
	assert.False(t, ok)
}

func TestNaiveByCategoryFilter(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p := makeFakePatient(pMap, "p1", "A", "B") // A on 2022-01-01, B on 2022-02-01
	filtered := cohort.ApplyPatientFilter(cohort.NaiveByCategoryFilter(date(2022, 1, 15)), pMap)
	// only the category started after the index date survives
	require.Len(t, filtered.PIDMap, 1)
	require.Len(t, p.Dispensations, 1)
	assert.Equal(t, "B", p.Dispensations[0].Category)

	pMap2 := cohort.NewPatientMap()
	makeFakePatient(pMap2, "p2", "A")
	filtered2 := cohort.ApplyPatientFilter(cohort.NaiveByCategoryFilter(date(2023, 1, 1)), pMap2)
	// a patient left without dispensations is removed
	assert.Len(t, filtered2.PIDMap, 0)
}

func TestClassifyOutcome(t *testing.T) {
	pMap := cohort.NewPatientMap()
	inTreatment := makeFakePatient(pMap, "p1", "A", "A", "A") // last on 2022-03-01
	lost := makeFakePatient(pMap, "p2", "A")                  // last on 2022-01-01
	cutoff := date(2022, 3, 1)
	assert.Equal(t, cohort.OutcomeInTreatment, cohort.ClassifyOutcome(inTreatment, cutoff))
	assert.Equal(t, cohort.OutcomeLostFollowUp, cohort.ClassifyOutcome(lost, cutoff))
	outcomes := cohort.ClassifyOutcomes(pMap, cutoff)
	assert.Equal(t, cohort.OutcomeInTreatment, outcomes[inTreatment.PID])
	assert.Equal(t, cohort.OutcomeLostFollowUp, outcomes[lost.PID])
}

func TestBuildFlows(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p1 := makeFakePatient(pMap, "p1", "A", "B")
	p2 := makeFakePatient(pMap, "p2", "A", "B")
	p3 := makeFakePatient(pMap, "p3", "A")
	for _, p := range []*cohort.Patient{p1, p2, p3} {
		cohort.AssignLines(p, cohort.ChangePoint)
	}
	outcomes := map[int]string{
		p1.PID: cohort.OutcomeInTreatment,
		p2.PID: cohort.OutcomeLostFollowUp,
		p3.PID: cohort.OutcomeLostFollowUp,
	}
	flows := cohort.BuildFlows(pMap, outcomes)
	require.Len(t, flows, 4)
	assert.Contains(t, flows, cohort.Flow{Source: "A (Linea 1)", Target: "B (Linea 2)", Count: 2})
	assert.Contains(t, flows, cohort.Flow{Source: "B (Linea 2)", Target: cohort.OutcomeInTreatment, Count: 1})
	assert.Contains(t, flows, cohort.Flow{Source: "B (Linea 2)", Target: cohort.OutcomeLostFollowUp, Count: 1})
	assert.Contains(t, flows, cohort.Flow{Source: "A (Linea 1)", Target: cohort.OutcomeLostFollowUp, Count: 1})
}

func TestPatientMapInterning(t *testing.T) {
	pMap := cohort.NewPatientMap()
	p1 := pMap.Intern("a")
	p2 := pMap.Intern("a")
	p3 := pMap.Intern("b")
	assert.Same(t, p1, p2)
	assert.NotEqual(t, p1.PID, p3.PID)
	assert.Equal(t, 2, pMap.Ctr)
	sorted := pMap.SortedPatients()
	require.Len(t, sorted, 2)
	assert.Equal(t, "a", sorted[0].PIDString)
	assert.Equal(t, "b", sorted[1].PIDString)
}
