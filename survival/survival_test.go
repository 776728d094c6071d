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

package survival_test

import (
	"math"
	"testing"

	"adper/cohort"
	"adper/survival"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = cohort.DispensationDate{Year: 2022, Month: 1, Day: 1}

// addPatient creates a patient with one dispensation per day offset, all in
// the same group.
func addPatient(pMap *cohort.PatientMap, pidString, group string, offsets ...int) *cohort.Patient {
	p := pMap.Intern(pidString)
	for i, offset := range offsets {
		cohort.AddDispensation(p, &cohort.Dispensation{
			PID:      p.PID,
			Seq:      i,
			Category: group,
			Strat:    group,
			Date:     cohort.AddDays(t0, offset),
			Amount:   30.0,
		})
	}
	cohort.SortDispensations(p)
	return p
}

// included builds a bare record for curve and test inputs.
func included(pid int, group string, time, event int) survival.Record {
	return survival.Record{PID: pid, Group: group, Time: time, Event: event, Included: true}
}

func TestBuildRecordsThreeWayRule(t *testing.T) {
	pMap := cohort.NewPatientMap()
	// single dispensation well before the cutoff: an immediate interruption
	addPatient(pMap, "event", "g", 0)
	// history spanning the whole period: censored, even though it also ends
	// before the cutoff
	addPatient(pMap, "censored", "g", 0, 400)
	// history running past the cutoff without covering the period: excluded
	addPatient(pMap, "excluded", "g", 0, 200)

	cutoff := cohort.AddDays(t0, 100)
	records := survival.BuildRecords(pMap, 365, cutoff)
	require.Len(t, records, 3)

	event := records[0]
	assert.Equal(t, "event", event.PIDString)
	assert.True(t, event.Included)
	assert.Equal(t, 1, event.Event)
	assert.Equal(t, 0, event.Time)
	assert.Equal(t, survival.ReasonEvent, event.Reason)

	excluded := records[2]
	assert.Equal(t, "excluded", excluded.PIDString)
	assert.False(t, excluded.Included)
	assert.Equal(t, 0, excluded.Event)
	assert.Equal(t, 100, excluded.Time)
	assert.Equal(t, survival.ReasonExcluded, excluded.Reason)

	// the censored patient needs a later cutoff to observe the full span
	records = survival.BuildRecords(pMap, 365, cohort.AddDays(t0, 500))
	censored := records[1]
	assert.Equal(t, "censored", censored.PIDString)
	assert.True(t, censored.Included)
	assert.Equal(t, 0, censored.Event)
	assert.Equal(t, 365, censored.Time)
	assert.Equal(t, 400, censored.ObservedDays)
	assert.Equal(t, survival.ReasonCensored, censored.Reason)
}

func TestIncluded(t *testing.T) {
	records := []survival.Record{
		included(1, "g", 10, 1),
		{PID: 2, Group: "g", Time: 20, Included: false},
	}
	kept := survival.Included(records)
	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].PID)
}

func TestKMCurve(t *testing.T) {
	records := []survival.Record{
		included(1, "g", 10, 1),
		included(2, "g", 20, 0),
		included(3, "g", 30, 1),
		included(4, "g", 40, 0),
	}
	curve := survival.KMCurve("g", records, 100)
	require.Len(t, curve.Points, 6)
	assert.Equal(t, survival.CurvePoint{Time: 0, Survival: 1.0}, curve.Points[0])
	assert.Equal(t, 10, curve.Points[1].Time)
	assert.InDelta(t, 0.75, curve.Points[1].Survival, 1e-12)
	// censoring shrinks the risk set without a survival step
	assert.InDelta(t, 0.75, curve.Points[2].Survival, 1e-12)
	assert.Equal(t, 30, curve.Points[3].Time)
	assert.InDelta(t, 0.375, curve.Points[3].Survival, 1e-12)
	// flat extension to the end of the period
	last := curve.Points[len(curve.Points)-1]
	assert.Equal(t, 100, last.Time)
	assert.InDelta(t, 0.375, last.Survival, 1e-12)
	// survival is non-increasing throughout
	for i := 1; i < len(curve.Points); i++ {
		assert.LessOrEqual(t, curve.Points[i].Survival, curve.Points[i-1].Survival)
	}
}

func TestCurvesPerGroup(t *testing.T) {
	records := []survival.Record{
		included(1, "b", 10, 1),
		included(2, "a", 20, 0),
		{PID: 3, Group: "c", Time: 5, Event: 1, Included: false},
	}
	assert.Equal(t, []string{"a", "b"}, survival.Groups(survival.Included(records)))
	curves := survival.Curves(records, 50)
	require.Len(t, curves, 2)
	assert.Equal(t, "a", curves["a"].Group)
	// the all-censored group stays at survival 1.0
	last := curves["a"].Points[len(curves["a"].Points)-1]
	assert.Equal(t, 50, last.Time)
	assert.InDelta(t, 1.0, last.Survival, 1e-12)
}

func TestLogRankIdenticalGroups(t *testing.T) {
	records := []survival.Record{
		included(1, "x", 10, 1),
		included(2, "x", 20, 1),
		included(3, "x", 30, 0),
		included(4, "y", 10, 1),
		included(5, "y", 20, 1),
		included(6, "y", 30, 0),
	}
	result := survival.LogRank(records)
	require.True(t, result.Computable)
	assert.Equal(t, 1, result.DF)
	assert.InDelta(t, 0.0, result.Chi2, 1e-9)
	assert.InDelta(t, 1.0, result.PValue, 1e-9)
}

func TestLogRankSeparatedGroups(t *testing.T) {
	// all of group a interrupts early, all of group b is censored at the end
	records := []survival.Record{
		included(1, "a", 10, 1),
		included(2, "a", 20, 1),
		included(3, "a", 30, 1),
		included(4, "b", 365, 0),
		included(5, "b", 365, 0),
		included(6, "b", 365, 0),
	}
	result := survival.LogRank(records)
	require.True(t, result.Computable)
	// observed a = 3, expected a = 3/6 + 2/5 + 1/4 = 1.15,
	// pooled variance = 1/4 + 6/25 + 3/16
	assert.InDelta(t, 5.0516, result.Chi2, 1e-3)
	assert.Less(t, result.PValue, 0.05)
	assert.Greater(t, result.PValue, 0.0)
}

func TestLogRankNotComputable(t *testing.T) {
	// one group only
	oneGroup := survival.LogRank([]survival.Record{
		included(1, "a", 10, 1),
		included(2, "a", 20, 1),
	})
	assert.False(t, oneGroup.Computable)
	assert.True(t, math.IsNaN(oneGroup.Chi2))
	assert.True(t, math.IsNaN(oneGroup.PValue))

	// two groups but no events
	noEvents := survival.LogRank([]survival.Record{
		included(1, "a", 10, 0),
		included(2, "b", 20, 0),
	})
	assert.False(t, noEvents.Computable)
	assert.Equal(t, 1, noEvents.DF)

	// no records at all
	empty := survival.LogRank(nil)
	assert.False(t, empty.Computable)
	assert.Equal(t, 0, empty.DF)
}
