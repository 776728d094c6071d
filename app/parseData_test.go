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

package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"adper/app"
	"adper/cohort"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseDate(t *testing.T) {
	iso, ok := app.ParseDate("2022-03-15")
	require.True(t, ok)
	assert.Equal(t, cohort.DispensationDate{Year: 2022, Month: 3, Day: 15}, iso)

	dayFirst, ok := app.ParseDate("15/03/2022")
	require.True(t, ok)
	assert.Equal(t, iso, dayFirst)

	dashed, ok := app.ParseDate("15-03-2022")
	require.True(t, ok)
	assert.Equal(t, iso, dashed)

	for _, bad := range []string{"", "tomorrow", "2022-13-01", "32/01/2022", "15.03.2022"} {
		_, ok := app.ParseDate(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseDispensationData(t *testing.T) {
	file := writeTempFile(t, "dispensations.csv",
		"id,atc,date,amount\n"+
			"p1,A10,2022-01-01,30\n"+
			"p1,A10,01/02/2022,\"28,5\"\n"+
			"p2, B 02 ,2022-01-10,10\n"+
			"p2,B02,not-a-date,10\n")
	cols := app.DispensationColumns{PID: 0, Category: 1, Date: 2, Amount: 3, Key: -1, Strat: -1}
	pMap, invalidDates := app.ParseDispensationData(file, cols, true)
	assert.Equal(t, 1, invalidDates)
	assert.Equal(t, 2, pMap.Ctr)

	p1, ok := cohort.GetPatient("p1", pMap)
	require.True(t, ok)
	require.Len(t, p1.Dispensations, 2)
	assert.Equal(t, cohort.DispensationDate{Year: 2022, Month: 1, Day: 1}, p1.Dispensations[0].Date)
	// day-first dates and decimal commas are accepted
	assert.Equal(t, cohort.DispensationDate{Year: 2022, Month: 2, Day: 1}, p1.Dispensations[1].Date)
	assert.InDelta(t, 28.5, p1.Dispensations[1].Amount, 1e-12)
	// without a key or strat column, the category fills both roles
	assert.Equal(t, "A10", p1.Dispensations[0].Key)
	assert.Equal(t, "A10", p1.Dispensations[0].Strat)

	p2, ok := cohort.GetPatient("p2", pMap)
	require.True(t, ok)
	require.Len(t, p2.Dispensations, 1)
	// whitespace in keys is normalized
	assert.Equal(t, "B 02", p2.Dispensations[0].Category)
}

func TestParseDoseTable(t *testing.T) {
	file := writeTempFile(t, "ddd.csv",
		"atc,ddd\n"+
			"A10,2\n"+
			"B02,\"1,5\"\n"+
			"A10,99\n") //duplicate keys keep the first occurrence
	doses := app.ParseDoseTable(file, 0, 1, true)
	require.Len(t, doses, 2)
	assert.InDelta(t, 2.0, doses["A10"], 1e-12)
	assert.InDelta(t, 1.5, doses["B02"], 1e-12)
}
