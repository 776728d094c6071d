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

	"adper/utils"
)

// CategorySummary aggregates the adherence results of one category: unit
// count, adherent count and share, and the distribution of the metric.
type CategorySummary struct {
	Category    string
	N           int
	NAdherent   int
	PctAdherent float64
	Mean        float64
	StdDev      float64
	Median      float64
	P10         float64
	P90         float64
	Min         float64
	Max         float64
}

// Summarize groups adherence results by category and computes the summary
// statistics of each group, ordered by descending mean.
func Summarize(results []Result) []CategorySummary {
	byCategory := map[string][]float64{}
	adherent := map[string]int{}
	for _, r := range results {
		byCategory[r.Category] = append(byCategory[r.Category], r.Value)
		if r.Adherent {
			adherent[r.Category]++
		}
	}
	summaries := []CategorySummary{}
	for category, values := range byCategory {
		min := values[0]
		max := values[0]
		for _, v := range values {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		summaries = append(summaries, CategorySummary{
			Category:    category,
			N:           len(values),
			NAdherent:   adherent[category],
			PctAdherent: 100.0 * float64(adherent[category]) / float64(len(values)),
			Mean:        utils.Mean(values),
			StdDev:      utils.SampleStdDev(values),
			Median:      utils.Median(values),
			P10:         utils.Quantile(values, 0.10),
			P90:         utils.Quantile(values, 0.90),
			Min:         min,
			Max:         max,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Mean != summaries[j].Mean {
			return summaries[i].Mean > summaries[j].Mean
		}
		return summaries[i].Category < summaries[j].Category
	})
	return summaries
}

// Totals is the single global summary row of an adherence run.
type Totals struct {
	Metric      string
	PeriodDays  int
	Threshold   float64
	N           int
	NAdherent   int
	PctAdherent float64
	Mean        float64
	Min         float64
	Max         float64
}

// TotalsOf computes the global summary of an adherence run.
func TotalsOf(results []Result, cfg Config) Totals {
	totals := Totals{
		Metric:     cfg.Metric.String(),
		PeriodDays: cfg.PeriodDays,
		Threshold:  cfg.Threshold,
		N:          len(results),
	}
	if len(results) == 0 {
		return totals
	}
	values := make([]float64, len(results))
	totals.Min = results[0].Value
	totals.Max = results[0].Value
	for i, r := range results {
		values[i] = r.Value
		if r.Adherent {
			totals.NAdherent++
		}
		if r.Value < totals.Min {
			totals.Min = r.Value
		}
		if r.Value > totals.Max {
			totals.Max = r.Value
		}
	}
	totals.Mean = utils.Mean(values)
	totals.PctAdherent = 100.0 * float64(totals.NAdherent) / float64(len(results))
	return totals
}
