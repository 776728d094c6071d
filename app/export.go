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
	"fmt"
	"os"

	"adper/adherence"
	"adper/cohort"
	"adper/survival"

	"github.com/xuri/excelize/v2"
)

// RunOutput collects all result tables of one analysis run for export.
type RunOutput struct {
	Lines          []cohort.LineRecord
	Flows          []cohort.Flow
	Outcomes       map[int]string
	Adherence      []adherence.Result
	Summaries      []adherence.CategorySummary
	Totals         adherence.Totals
	CoverageReport adherence.CoverageReport
	InvalidDates   int
	HasSurvival    bool
	Records        []survival.Record
	Curves         map[string]survival.Curve
	LogRank        survival.LogRankResult
}

func formatDate(d cohort.DispensationDate) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// writeSheet adds one sheet to a workbook with a header row and data rows.
func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func missingDosePolicyLabel(policy adherence.MissingDosePolicy) string {
	if policy == adherence.DropMissing {
		return "drop"
	}
	return "zerofill"
}

// WriteWorkbook writes all result tables of a run into a single Excel
// workbook, one sheet per table.
func WriteWorkbook(path string, out *RunOutput) error {
	f := excelize.NewFile()
	defer f.Close()

	lineRows := make([][]interface{}, len(out.Lines))
	for i, r := range out.Lines {
		lineRows[i] = []interface{}{r.PIDString, formatDate(r.Date), r.Category, r.Line, r.Label(), out.Outcomes[r.PID]}
	}
	if err := writeSheet(f, "linee", []string{"paziente", "data", "categoria", "linea", "terapia", "esito"}, lineRows); err != nil {
		return err
	}

	flowRows := make([][]interface{}, len(out.Flows))
	for i, fl := range out.Flows {
		flowRows[i] = []interface{}{fl.Source, fl.Target, fl.Count}
	}
	if err := writeSheet(f, "flussi", []string{"da", "a", "pazienti"}, flowRows); err != nil {
		return err
	}

	adherenceRows := make([][]interface{}, len(out.Adherence))
	for i, r := range out.Adherence {
		adherenceRows[i] = []interface{}{r.PIDString, r.Category, r.Value, r.CoveredDays, r.PersistenceDays, r.WindowDays, r.Adherent}
	}
	if err := writeSheet(f, "aderenza_unita",
		[]string{"paziente", "categoria", out.Totals.Metric, "giorni_coperti", "persistenza_giorni", "periodo_giorni", "aderente"},
		adherenceRows); err != nil {
		return err
	}

	summaryRows := make([][]interface{}, len(out.Summaries))
	for i, s := range out.Summaries {
		summaryRows[i] = []interface{}{s.Category, s.N, s.NAdherent, s.PctAdherent, s.Mean, s.StdDev, s.Median, s.P10, s.P90, s.Min, s.Max}
	}
	if err := writeSheet(f, "riepilogo",
		[]string{"categoria", "N_unita", "N_aderenti", "%_aderenti", "media", "DS", "P50", "P10", "P90", "min", "max"},
		summaryRows); err != nil {
		return err
	}

	totalRows := [][]interface{}{{
		out.Totals.Metric, out.Totals.PeriodDays, out.Totals.Threshold, out.Totals.N,
		out.Totals.NAdherent, out.Totals.PctAdherent, out.Totals.Mean, out.Totals.Min, out.Totals.Max,
		out.InvalidDates, out.CoverageReport.MissingDose, missingDosePolicyLabel(out.CoverageReport.Policy),
	}}
	if err := writeSheet(f, "totali",
		[]string{"metrica", "periodo_giorni", "soglia", "N_unita", "N_aderenti", "%_aderenti", "media", "min", "max",
			"righe_data_non_valida", "righe_senza_DDD", "politica_DDD_mancante"},
		totalRows); err != nil {
		return err
	}

	if out.HasSurvival {
		recordRows := make([][]interface{}, len(out.Records))
		for i, r := range out.Records {
			recordRows[i] = []interface{}{r.PIDString, r.Group, formatDate(r.Start), formatDate(r.Last),
				formatDate(r.ObservedLast), r.ObservedDays, r.Time, r.Event, r.Included, r.Reason}
		}
		if err := writeSheet(f, "persistenza",
			[]string{"paziente", "gruppo", "inizio", "ultima", "ultima_osservata", "giorni_osservati", "time", "event", "incluso", "motivo"},
			recordRows); err != nil {
			return err
		}

		curveRows := [][]interface{}{}
		for _, group := range survival.Groups(survival.Included(out.Records)) {
			for _, p := range out.Curves[group].Points {
				curveRows = append(curveRows, []interface{}{group, p.Time, p.Survival})
			}
		}
		if err := writeSheet(f, "km_curve", []string{"gruppo", "giorni", "sopravvivenza"}, curveRows); err != nil {
			return err
		}

		logrankRows := [][]interface{}{{out.LogRank.Chi2, out.LogRank.DF, out.LogRank.PValue, out.LogRank.Computable}}
		if err := writeSheet(f, "logrank", []string{"chi2", "df", "p_value", "calcolabile"}, logrankRows); err != nil {
			return err
		}
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

// WriteLinesToTabFile prints the therapy line table in a human-readable tab
// format: one line per dispensation with patient, date, category, line index,
// and label.
func WriteLinesToTabFile(records []cohort.LineRecord, name string) {
	file, err := os.Create(name)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	for _, r := range records {
		fmt.Fprintf(file, "%s\t%s\t%s\t%d\t%s\n", r.PIDString, formatDate(r.Date), r.Category, r.Line, r.Label())
	}
}

// WriteFlowsToTabFile prints the transition table in a human-readable tab
// format. For each transition, it prints one line: source tab target tab
// patient count.
func WriteFlowsToTabFile(flows []cohort.Flow, name string) {
	file, err := os.Create(name)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(err)
		}
	}()
	for _, fl := range flows {
		fmt.Fprintf(file, "%s\t%s\t%d\n", fl.Source, fl.Target, fl.Count)
	}
}
