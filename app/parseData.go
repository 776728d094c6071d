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

package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"adper/adherence"
	"adper/cohort"
)

//The adper program has 2 data inputs:
//A file with dispensation records, associating a patient ID with a therapeutic
//category (e.g. ATC code), a dispensation date, and a dispensed amount in DDD
//units.
//A lookup file mapping a category key onto the standard daily dose of that
//category, used to convert dispensed amounts into days of coverage.
//Which column plays which role is decided by the caller; the parser receives
//plain column indices.

// DispensationColumns maps the roles of the dispensation input onto column
// indices. Key and Strat may be -1, in which case the category column doubles
// as join key respectively stratification variable.
type DispensationColumns struct {
	PID      int
	Category int
	Date     int
	Amount   int
	Key      int
	Strat    int
}

// parseDispensationDate parses a date in ISO (2024-09-30) or day-first
// (30/09/2024, 30-09-2024) notation. The second return value is false for
// unparsable dates.
func parseDispensationDate(date string) (cohort.DispensationDate, bool) {
	date = strings.TrimSpace(date)
	var year, month, day int
	var err error
	switch {
	case len(date) >= 10 && date[4] == '-':
		year, err = strconv.Atoi(date[0:4])
		if err == nil {
			month, err = strconv.Atoi(date[5:7])
		}
		if err == nil {
			day, err = strconv.Atoi(date[8:10])
		}
	case len(date) >= 10 && (date[2] == '/' || date[2] == '-'):
		day, err = strconv.Atoi(date[0:2])
		if err == nil {
			month, err = strconv.Atoi(date[3:5])
		}
		if err == nil {
			year, err = strconv.Atoi(date[6:10])
		}
	default:
		return cohort.DispensationDate{}, false
	}
	if err != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return cohort.DispensationDate{}, false
	}
	return cohort.DispensationDate{Year: year, Month: month, Day: day}, true
}

// parseAmount parses a dispensed amount, accepting a decimal comma. Returns 0
// for unparsable values so that a bad amount never fabricates coverage.
func parseAmount(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}

// ParseDate parses a date in the notations the dispensation parser accepts.
// Used for date-valued command line flags.
func ParseDate(date string) (cohort.DispensationDate, bool) {
	return parseDispensationDate(date)
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// ParseDispensationData parses the dispensation csv file into a patient map.
// Rows with unparsable dates are discarded and counted; the count is returned
// so the caller can report it. With header set, the first row is skipped.
func ParseDispensationData(file string, cols DispensationColumns, header bool) (*cohort.PatientMap, int) {
	csvFile, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := csvFile.Close(); err != nil {
			panic(err)
		}
	}()
	patientMap := cohort.NewPatientMap()
	invalidDates := 0
	rows := 0
	seq := 0
	reader := csv.NewReader(csvFile)
	reader.FieldsPerRecord = -1
	if header {
		reader.Read()
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		rows++
		date, ok := parseDispensationDate(record[cols.Date])
		if !ok {
			invalidDates++
			continue
		}
		category := normalizeKey(record[cols.Category])
		key := category
		if cols.Key >= 0 {
			key = normalizeKey(record[cols.Key])
		}
		strat := category
		if cols.Strat >= 0 {
			strat = normalizeKey(record[cols.Strat])
		}
		patient := patientMap.Intern(record[cols.PID])
		cohort.AddDispensation(patient, &cohort.Dispensation{
			PID:      patient.PID,
			Seq:      seq,
			Category: category,
			Key:      key,
			Strat:    strat,
			Date:     date,
			Amount:   parseAmount(record[cols.Amount]),
		})
		seq++
	}
	for _, p := range patientMap.PIDMap {
		cohort.SortDispensations(p)
	}
	fmt.Println("Parsed ", rows, " dispensation rows for ", patientMap.Ctr, " patients; ",
		invalidDates, " rows discarded for unparsable dates.")
	return patientMap, invalidDates
}

// ParseDoseTable parses the standard daily dose lookup file. Duplicate keys
// keep the first occurrence. With header set, the first row is skipped.
func ParseDoseTable(file string, keyCol, doseCol int, header bool) adherence.DoseTable {
	csvFile, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := csvFile.Close(); err != nil {
			panic(err)
		}
	}()
	doses := adherence.DoseTable{}
	reader := csv.NewReader(csvFile)
	reader.FieldsPerRecord = -1
	if header {
		reader.Read()
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		key := normalizeKey(record[keyCol])
		if _, ok := doses[key]; ok {
			continue //first occurrence wins, like the historical lookup join
		}
		doses[key] = parseAmount(record[doseCol])
	}
	fmt.Println("Parsed ", len(doses), " standard daily dose entries.")
	return doses
}
