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
	"math"
	"sort"

	"adper/utils"

	"gonum.org/v1/gonum/mat"
)

// LogRankResult holds the outcome of the multi-group Mantel-Cox log-rank
// test. With fewer than two groups or no observed events the test is not
// computable: Computable is false and Chi2/PValue are NaN.
type LogRankResult struct {
	Chi2       float64
	PValue     float64
	Groups     []string
	DF         int
	Computable bool
}

func notComputable(groups []string) LogRankResult {
	return LogRankResult{
		Chi2:       math.NaN(),
		PValue:     math.NaN(),
		Groups:     groups,
		DF:         utils.MaxInt(len(groups)-1, 0),
		Computable: false,
	}
}

// LogRank runs the Mantel-Cox log-rank test over the included records of a
// persistence analysis. Observed and expected event counts and the k x k
// covariance matrix are accumulated over the pooled distinct event times; the
// statistic is D' pinv(V) D with D = O - E. The pseudo-inverse is required
// because the covariance matrix of k groups is singular: its rows and columns
// sum to zero by construction.
func LogRank(records []Record) LogRankResult {
	included := Included(records)
	groups := Groups(included)
	k := len(groups)
	groupIndex := map[string]int{}
	for i, g := range groups {
		groupIndex[g] = i
	}
	eventTimes := []int{}
	seen := map[int]bool{}
	for _, r := range included {
		if r.Event == 1 && !seen[r.Time] {
			seen[r.Time] = true
			eventTimes = append(eventTimes, r.Time)
		}
	}
	sort.Ints(eventTimes)
	if k < 2 || len(eventTimes) == 0 {
		return notComputable(groups)
	}

	observed := make([]float64, k)
	expected := make([]float64, k)
	v := mat.NewDense(k, k, nil)
	for _, t := range eventTimes {
		r := 0
		d := 0
		rg := make([]float64, k)
		dg := make([]float64, k)
		for _, rec := range included {
			if rec.Time >= t {
				r++
				rg[groupIndex[rec.Group]]++
			}
			if rec.Time == t && rec.Event == 1 {
				d++
				dg[groupIndex[rec.Group]]++
			}
		}
		if r <= 1 {
			continue
		}
		if d == 0 || d == r {
			continue //no variance contribution
		}
		common := float64(d*(r-d)) / (float64(r) * float64(r) * float64(r-1))
		for i := 0; i < k; i++ {
			observed[i] += dg[i]
			expected[i] += float64(d) * rg[i] / float64(r)
			for j := 0; j < k; j++ {
				contribution := -rg[i] * rg[j] * common
				if i == j {
					contribution += rg[i] * float64(r) * common
				}
				v.Set(i, j, v.At(i, j)+contribution)
			}
		}
	}

	diff := make([]float64, k)
	for i := 0; i < k; i++ {
		diff[i] = observed[i] - expected[i]
	}
	pinv, ok := pseudoInverse(v)
	if !ok {
		return notComputable(groups)
	}
	dVec := mat.NewVecDense(k, diff)
	var tmp mat.VecDense
	tmp.MulVec(pinv, dVec)
	chi2 := mat.Dot(dVec, &tmp)
	df := k - 1
	return LogRankResult{
		Chi2:       chi2,
		PValue:     1.0 - utils.Chi2Cdf(chi2, df),
		Groups:     groups,
		DF:         df,
		Computable: true,
	}
}

// pseudoInverse computes the Moore-Penrose pseudo-inverse of a square matrix
// via SVD, zeroing singular values below the numpy rcond default of 1e-15
// relative to the largest singular value.
func pseudoInverse(a *mat.Dense) (*mat.Dense, bool) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	smax := 0.0
	for _, s := range values {
		if s > smax {
			smax = s
		}
	}
	cutoff := 1e-15 * smax
	inv := mat.NewDense(len(values), len(values), nil)
	for i, s := range values {
		if s > cutoff && s > 0 {
			inv.Set(i, i, 1.0/s)
		}
	}
	var tmp, pinv mat.Dense
	tmp.Mul(&v, inv)
	pinv.Mul(&tmp, u.T())
	return &pinv, true
}
