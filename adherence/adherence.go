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
	"sort"

	"adper/cohort"

	"github.com/exascience/pargo/parallel"
)

// Metric selects one of the adherence algorithms. The interval variants exist
// because historical analyses used both aggregations; they are not equivalent
// and are exposed side by side rather than reconciled.
type Metric int

const (
	// Cumulative is the classic PDC: covered days summed over the window,
	// capped at the window length, divided by the window length.
	Cumulative Metric = iota
	// Stockpiled is cumulative PDC with a stock-depletion simulation that
	// caps early stockpiling: supply accumulates at each dispensation and is
	// consumed day by day across the gaps between dispensations.
	Stockpiled
	// IntervalMean computes one coverage ratio per inter-dispensation
	// interval and averages the ratios, unweighted.
	IntervalMean
	// IntervalWeighted sums the per-interval covered days and divides by the
	// window length, which weights each interval by its duration.
	IntervalWeighted
	// PersistenceTruncated runs the same stock simulation as Stockpiled but
	// divides by the patient's real persistence (first dispensation through
	// the last day with remaining supply) instead of the fixed window.
	PersistenceTruncated
)

func (m Metric) String() string {
	switch m {
	case Cumulative:
		return "PDC"
	case Stockpiled:
		return "PDC_stock"
	case IntervalMean:
		return "ADH_intervalli"
	case IntervalWeighted:
		return "ADH_anno"
	case PersistenceTruncated:
		return "PDC_persistenza"
	}
	return "unknown"
}

// Unit selects the analysis unit: whole patients (with the mode category as
// the representative label) or (patient, category) pairs.
type Unit int

const (
	PerPatient Unit = iota
	PerPatientCategory
)

// Config carries the run parameters of an adherence computation. No ambient
// state: everything the engine needs is in here.
type Config struct {
	PeriodDays int     //observation window length in days
	Threshold  float64 //adherent iff value >= threshold
	Metric     Metric
	Unit       Unit
}

// Result is the adherence outcome for one analysis unit. Value is always in
// [0,1]. PersistenceDays is only meaningful for PersistenceTruncated.
type Result struct {
	PID             int
	PIDString       string
	Category        string //unit category, or the mode category for PerPatient units
	Value           float64
	CoveredDays     float64
	PersistenceDays int
	WindowDays      int
	Adherent        bool
}

func clamp01(x float64) float64 {
	if x < 0.0 {
		return 0.0
	}
	if x > 1.0 {
		return 1.0
	}
	return x
}

// unit is one per-(patient, category) or per-patient event sequence to score.
type unit struct {
	pid       int
	pidString string
	category  string
	events    []*cohort.Dispensation //sorted by date
}

// buildUnits splits a cohort into analysis units. Events are restricted to
// the window [t0, t0+period) later, per unit.
func buildUnits(pMap *cohort.PatientMap, u Unit) []unit {
	units := []unit{}
	for _, p := range pMap.SortedPatients() {
		if len(p.Dispensations) == 0 {
			continue
		}
		cohort.SortDispensations(p)
		if u == PerPatient {
			units = append(units, unit{
				pid:       p.PID,
				pidString: p.PIDString,
				category:  cohort.ModeCategory(p),
				events:    p.Dispensations,
			})
			continue
		}
		byCategory := map[string][]*cohort.Dispensation{}
		order := []string{}
		for _, d := range p.Dispensations {
			if _, ok := byCategory[d.Category]; !ok {
				order = append(order, d.Category)
			}
			byCategory[d.Category] = append(byCategory[d.Category], d)
		}
		sort.Strings(order)
		for _, category := range order {
			units = append(units, unit{
				pid:       p.PID,
				pidString: p.PIDString,
				category:  category,
				events:    byCategory[category],
			})
		}
	}
	return units
}

// windowEvents restricts a sorted event sequence to [t0, end).
func windowEvents(events []*cohort.Dispensation, end cohort.DispensationDate) []*cohort.Dispensation {
	windowed := []*cohort.Dispensation{}
	for _, d := range events {
		if cohort.DispensationDateSmallerThan(d.Date, end) {
			windowed = append(windowed, d)
		}
	}
	return windowed
}

// cumulativePDC sums covered days over the window, capped at the window
// length.
func cumulativePDC(events []*cohort.Dispensation, period int) (float64, float64) {
	covered := 0.0
	for _, d := range events {
		covered += d.DaysCovered
	}
	if covered > float64(period) {
		covered = float64(period)
	}
	return clamp01(covered / float64(period)), covered
}

// stockpiledPDC simulates day-by-day stock depletion: at each dispensation the
// gap since the previous one consumes stock, then the new supply is added.
// The tail gap up to the window end consumes the remaining stock the same
// way.
func stockpiledPDC(events []*cohort.Dispensation, t0, end cohort.DispensationDate, period int) (float64, float64) {
	covered := 0.0
	current := t0
	stock := 0.0
	for _, d := range events {
		until := cohort.MinDate(d.Date, end)
		gap := cohort.DaysBetween(current, until)
		if gap < 0 {
			gap = 0
		}
		use := stock
		if float64(gap) < use {
			use = float64(gap)
		}
		covered += use
		stock -= use
		current = until
		stock += d.DaysCovered
	}
	tailGap := cohort.DaysBetween(current, end)
	if tailGap < 0 {
		tailGap = 0
	}
	use := stock
	if float64(tailGap) < use {
		use = float64(tailGap)
	}
	covered += use
	if covered > float64(period) {
		covered = float64(period)
	}
	return clamp01(covered / float64(period)), covered
}

// intervalAdherence partitions the window into consecutive intervals bounded
// by successive dispensation dates, the last interval ending at the window
// end. Zero-length intervals are skipped. Aggregation is either the unweighted
// mean of per-interval ratios or the length-weighted sum over the period.
func intervalAdherence(events []*cohort.Dispensation, end cohort.DispensationDate, period int, weighted bool) (float64, float64, bool) {
	ratios := []float64{}
	totalCovered := 0.0
	for i, d := range events {
		next := end
		if i < len(events)-1 {
			next = events[i+1].Date
		}
		intervalEnd := cohort.MinDate(next, end)
		delta := cohort.DaysBetween(d.Date, intervalEnd)
		if delta <= 0 {
			continue
		}
		covered := d.DaysCovered
		if covered > float64(delta) {
			covered = float64(delta)
		}
		totalCovered += covered
		ratios = append(ratios, covered/float64(delta))
	}
	if weighted {
		return clamp01(totalCovered / float64(period)), totalCovered, true
	}
	if len(ratios) == 0 {
		return 0.0, 0.0, false
	}
	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	return clamp01(sum / float64(len(ratios))), totalCovered, true
}

// persistenceTruncatedPDC runs the stock simulation but divides by the actual
// persistence: the days from t0 through the last day with positive remaining
// stock, truncated to the window. A sentinel event at the window end closes
// the last interval. Returns value, covered days, and persistence days.
func persistenceTruncatedPDC(events []*cohort.Dispensation, t0, end cohort.DispensationDate) (float64, float64, int) {
	prev := t0
	stock := 0.0
	coveredTotal := 0.0
	var lastCovered *cohort.DispensationDate
	walk := func(date cohort.DispensationDate, supply float64) {
		intervalLen := cohort.DaysBetween(prev, date)
		if intervalLen > 0 {
			used := stock
			if float64(intervalLen) < used {
				used = float64(intervalLen)
			}
			coveredTotal += used
			if used > 0 {
				d := cohort.AddDays(prev, int(used))
				lastCovered = &d
			}
			stock -= used
		}
		stock += supply
		prev = date
	}
	for _, d := range events {
		walk(d.Date, d.DaysCovered)
	}
	walk(end, 0.0) //sentinel closes the tail interval
	if lastCovered == nil {
		return 0.0, 0.0, 0
	}
	persistence := cohort.DaysBetween(t0, cohort.MinDate(*lastCovered, end))
	if persistence < 0 {
		persistence = 0
	}
	pdc := 0.0
	if persistence > 0 {
		pdc = coveredTotal / float64(persistence)
	}
	return clamp01(pdc), coveredTotal, persistence
}

// scoreUnit computes the configured metric for one unit. The second return
// value is false when the unit produces no scoreable interval and must be
// omitted from the results.
func scoreUnit(u unit, cfg Config) (Result, bool) {
	t0 := u.events[0].Date
	end := cohort.AddDays(t0, cfg.PeriodDays)
	events := windowEvents(u.events, end)
	if len(events) == 0 {
		return Result{}, false
	}
	result := Result{
		PID:        u.pid,
		PIDString:  u.pidString,
		Category:   u.category,
		WindowDays: cfg.PeriodDays,
	}
	switch cfg.Metric {
	case Cumulative:
		result.Value, result.CoveredDays = cumulativePDC(events, cfg.PeriodDays)
	case Stockpiled:
		result.Value, result.CoveredDays = stockpiledPDC(events, t0, end, cfg.PeriodDays)
	case IntervalMean:
		value, covered, ok := intervalAdherence(events, end, cfg.PeriodDays, false)
		if !ok {
			return Result{}, false
		}
		result.Value, result.CoveredDays = value, covered
	case IntervalWeighted:
		value, covered, _ := intervalAdherence(events, end, cfg.PeriodDays, true)
		result.Value, result.CoveredDays = value, covered
	case PersistenceTruncated:
		result.Value, result.CoveredDays, result.PersistenceDays = persistenceTruncatedPDC(events, t0, end)
	}
	result.Adherent = result.Value >= cfg.Threshold
	return result, true
}

// Compute runs the configured adherence metric over a whole cohort. Units are
// independent, so they are scored in parallel. Results are ordered by PID and
// category.
func Compute(pMap *cohort.PatientMap, cfg Config) []Result {
	units := buildUnits(pMap, cfg.Unit)
	result := parallel.RangeReduce(0, len(units), 0, func(low, high int) interface{} {
		results := []Result{}
		for _, u := range units[low:high] {
			if r, ok := scoreUnit(u, cfg); ok {
				results = append(results, r)
			}
		}
		return results
	}, func(result1, result2 interface{}) interface{} {
		r1 := result1.([]Result)
		r2 := result2.([]Result)
		return append(r1, r2...)
	})
	results := result.([]Result)
	sort.Slice(results, func(i, j int) bool {
		if results[i].PID != results[j].PID {
			return results[i].PID < results[j].PID
		}
		return results[i].Category < results[j].Category
	})
	return results
}
