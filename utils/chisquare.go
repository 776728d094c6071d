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

package utils

import (
	"log"
	"math"
)

// Chi-square distribution function for the log-rank test. Translation from
// numerical-recipes-style incomplete gamma routines.

const pi = 3.141592653589793

var logPI = math.Log(pi)
var sqrtPI = math.Sqrt(pi)

var coef = [6]float64{76.18009173, -86.50532033, 24.01409822, -1.231739516, 0.120858003e-2, -0.536382e-5}

func gammaLn(x float64) float64 {
	if x <= 0.0 {
		log.Panic("Error: argument to gammaLn must be positive: ", x)
	}
	if x > 1.0e302 {
		log.Panic("Error: argument to gammaLn too large: ", x)
	}
	if x == 0.5 {
		return math.Log(sqrtPI)
	}
	if x < 1.0 {
		z := 1.0 - x
		return (math.Log(z) + logPI) - (gammaLn(1.0+z) + math.Log(math.Sin(pi*z)))
	}
	xx := x - 1.0
	tmp := xx + 5.5
	ser := 1.0
	tmp -= (xx + 0.5) * math.Log(tmp)
	for i := 0; i < 6; i++ {
		xx += 1.0
		ser += coef[i] / xx
	}
	return math.Log(2.50662827465*ser) - tmp
}

const (
	gammaIncEps     = 1e-12
	gammaIncMaxIter = 10000
	gammaIncTiny    = 1e-300
)

// GammaIncP computes the regularized lower incomplete gamma function P(a, x).
// For x < a+1 a series expansion converges quickly; for larger x the
// complementary Q(a, x) is evaluated with a modified Lentz continued fraction
// and P = 1 - Q. Iteration stops when the relative term size drops below
// 1e-12, capped at 10000 terms.
func GammaIncP(a, x float64) float64 {
	if x <= 0.0 {
		return 0.0
	}
	if x < a+1.0 {
		term := 1.0 / a
		sum := term
		for n := 1; n < gammaIncMaxIter; n++ {
			term *= x / (a + float64(n))
			sum += term
			if math.Abs(term) < math.Abs(sum)*gammaIncEps {
				break
			}
		}
		return sum * math.Exp(-x+a*math.Log(x)-gammaLn(a))
	}
	b := x + 1.0 - a
	c := 1.0 / gammaIncTiny
	d := 1.0 / b
	if b == 0.0 {
		d = 1.0 / gammaIncTiny
	}
	h := d
	for i := 1; i <= gammaIncMaxIter; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2.0
		d = an*d + b
		if math.Abs(d) < gammaIncTiny {
			d = gammaIncTiny
		}
		c = b + an/c
		if math.Abs(c) < gammaIncTiny {
			c = gammaIncTiny
		}
		d = 1.0 / d
		delta := d * c
		h *= delta
		if math.Abs(delta-1.0) < gammaIncEps {
			break
		}
	}
	q := math.Exp(-x+a*math.Log(x)-gammaLn(a)) * h
	return 1.0 - q
}

// Chi2Cdf computes the cumulative distribution function of the chi-square
// distribution with df degrees of freedom: P(df/2, x/2).
func Chi2Cdf(x float64, df int) float64 {
	if x < 0.0 || df <= 0 {
		return 0.0
	}
	return GammaIncP(0.5*float64(df), 0.5*x)
}
