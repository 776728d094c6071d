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

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"

	"adper/adherence"
	"adper/app"
	"adper/cohort"
	"adper/survival"

	"go.uber.org/zap"
)

/*
Adper is a tool for adherence and persistence analysis of drug dispensation
registries.

Usage:
	adper dispensationFile doseFile outputPath [flags]

Example:
	adper dispensations.csv ddd.csv ./results/ --rule changepoint --collapseRepeats
	--metric stockpiled --unit patientcategory --period 365 --threshold 0.8
	--indexDate 2022-01-01 --followupCutoff 2023-06-30 --survival --name cohort22

The flags are:

--rule changepoint | firstseen
	Selects the therapy line segmentation rule. With changepoint, a patient
	starts a new line whenever the dispensed category differs from the previous
	dispensation. With firstseen, every dispensation of a category belongs to
	the line opened when that category was dispensed for the first time.
--collapseRepeats
	Before segmentation, collapse consecutive dispensations of the same
	category into their first occurrence. Only affects line segmentation, not
	adherence.
--missingDose drop | zerofill
	What to do with dispensations whose category has no standard daily dose in
	the dose file, or a dose of zero or less. drop removes those rows;
	zerofill keeps them with zero days of coverage. Either way the number of
	affected rows is reported.
--dedupSameDay
	Merge dispensations of the same patient, category and day into one row,
	summing their amounts and days of coverage.
--metric cumulative | stockpiled | intervalmean | intervalweighted | persistence
	The adherence metric to compute over the observation period. cumulative is
	the proportion of days covered from total supply. stockpiled simulates a
	medication stock over time, carrying oversupply forward across refills.
	intervalmean averages per-refill-interval coverage ratios. intervalweighted
	weights each interval's coverage by its length within the period.
	persistence relates covered days to the days until treatment stopped.
--unit patient | patientcategory
	The unit of analysis. patient scores each patient once, against the
	category they received most often. patientcategory scores each
	patient-category combination separately.
--period nr
	The length of the observation period in days, counted from each unit's
	first dispensation.
--threshold nr
	Units with a metric value at or above this threshold count as adherent.
--indexDate date
	If set, restricts the cohort to naive units: only patients (or
	patient-category combinations, see --naiveScope) whose first dispensation
	falls on or after this date are kept.
--naiveScope patient | patientcategory
	Scope of the naive restriction. patient drops whole patients with history
	before the index date. patientcategory drops only the categories a patient
	already received before the index date.
--followupCutoff date
	Patients whose last dispensation falls on or after this date are classified
	as still in treatment, the others as lost to follow-up. Defaults to the
	last dispensation date observed in the cohort.
--survival
	Compute persistence survival: per-patient time-to-interruption records,
	Kaplan-Meier curves per stratification group, and a Mantel-Cox log-rank
	test comparing the groups.
--groupBy nr
	Column index (0-based) of the stratification variable in the dispensation
	file, used to group the survival analysis. Defaults to the category column.
--pidCol, --categoryCol, --dateCol, --amountCol, --keyCol nr
	Column indices (0-based) of the patient ID, therapeutic category,
	dispensation date and dispensed amount in the dispensation file. keyCol is
	the column joined against the dose file; it defaults to the category
	column.
--doseKeyCol, --doseCol nr
	Column indices (0-based) of the join key and the standard daily dose in
	the dose file.
--name string
	Sets the name of the run. This name is used to generate names for output
	files.
--nrOfThreads nr
	The number of threads adper uses.
*/

const (
	programVersion = 0.1
	programName    = "adper"
)

func programMessage() string {
	return fmt.Sprint(programName, " version ", programVersion, " compiled with ", runtime.Version())
}

const adperHelp = "\nadper parameters:\n" +
	"adper dispensationFile doseFile outputPath \n" +
	"[--rule changepoint|firstseen]\n" +
	"[--collapseRepeats]\n" +
	"[--missingDose drop|zerofill]\n" +
	"[--dedupSameDay]\n" +
	"[--metric cumulative|stockpiled|intervalmean|intervalweighted|persistence]\n" +
	"[--unit patient|patientcategory]\n" +
	"[--period nr]\n" +
	"[--threshold nr]\n" +
	"[--indexDate date]\n" +
	"[--naiveScope patient|patientcategory]\n" +
	"[--followupCutoff date]\n" +
	"[--survival]\n" +
	"[--groupBy nr]\n" +
	"[--pidCol nr] [--categoryCol nr] [--dateCol nr] [--amountCol nr] [--keyCol nr]\n" +
	"[--doseKeyCol nr] [--doseCol nr]\n" +
	"[--name string]\n" +
	"[--nrOfThreads nr]\n"

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(ioutil.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprint(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprint(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func getFileName(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return s
}

func getSegmentationRule(s string) cohort.SegmentationRule {
	switch s {
	case "firstseen":
		return cohort.FirstSeen
	default:
		return cohort.ChangePoint
	}
}

func getMissingDosePolicy(s string) adherence.MissingDosePolicy {
	switch s {
	case "zerofill":
		return adherence.ZeroFillMissing
	default:
		return adherence.DropMissing
	}
}

func getMetric(s string) adherence.Metric {
	switch s {
	case "stockpiled":
		return adherence.Stockpiled
	case "intervalmean":
		return adherence.IntervalMean
	case "intervalweighted":
		return adherence.IntervalWeighted
	case "persistence":
		return adherence.PersistenceTruncated
	default:
		return adherence.Cumulative
	}
}

func getUnit(s string) adherence.Unit {
	switch s {
	case "patientcategory":
		return adherence.PerPatientCategory
	default:
		return adherence.PerPatient
	}
}

func getDate(s, flagName, help string) cohort.DispensationDate {
	d, ok := app.ParseDate(s)
	if !ok {
		fmt.Fprintln(os.Stderr, "Cannot parse --"+flagName+" date: ", s)
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	return d
}

// lastCohortDate returns the latest dispensation date observed in the cohort,
// the default follow-up cutoff.
func lastCohortDate(pMap *cohort.PatientMap) cohort.DispensationDate {
	last := cohort.DispensationDate{Year: 1, Month: 1, Day: 1}
	for _, p := range pMap.PIDMap {
		if d, ok := p.LastDate(); ok && cohort.DispensationDateSmallerThan(last, d) {
			last = d
		}
	}
	return last
}

func main() {
	var (
		// required parameters
		dispensationFile string //The file with dispensation events (patient ID, category, date, amount).
		doseFile         string //The file mapping category keys onto standard daily doses.
		outputPath       string //The path where output files are written.
		// optional flags
		rule            string
		collapseRepeats bool
		missingDose     string
		dedupSameDay    bool
		metric          string
		unit            string
		period          int
		threshold       float64
		indexDate       string
		naiveScope      string
		followupCutoff  string
		surv            bool
		groupBy         int
		pidCol          int
		categoryCol     int
		dateCol         int
		amountCol       int
		keyCol          int
		doseKeyCol      int
		doseCol         int
		name            string
		nrOfThreads     int
	)
	var flags flag.FlagSet
	// options for the adper command
	flags.StringVar(&rule, "rule", "changepoint", "The therapy line segmentation rule: a new line on "+
		"every category change, or one line per category opened at its first occurrence.")
	flags.BoolVar(&collapseRepeats, "collapseRepeats", false, "Collapse consecutive dispensations of "+
		"the same category before segmenting lines.")
	flags.StringVar(&missingDose, "missingDose", "drop", "What to do with dispensations without a "+
		"usable standard daily dose: drop the row or keep it with zero coverage.")
	flags.BoolVar(&dedupSameDay, "dedupSameDay", false, "Merge same-day dispensations of the same "+
		"patient and category, summing amounts.")
	flags.StringVar(&metric, "metric", "cumulative", "The adherence metric: cumulative, stockpiled, "+
		"intervalmean, intervalweighted, or persistence.")
	flags.StringVar(&unit, "unit", "patient", "The unit of analysis: patient or patientcategory.")
	flags.IntVar(&period, "period", 365, "The length of the observation period in days, from each "+
		"unit's first dispensation.")
	flags.Float64Var(&threshold, "threshold", 0.8, "The minimum metric value for a unit to count as "+
		"adherent.")
	flags.StringVar(&indexDate, "indexDate", "", "If set, restrict the cohort to units without "+
		"dispensations before this date.")
	flags.StringVar(&naiveScope, "naiveScope", "patient", "Scope of the naive restriction: patient "+
		"or patientcategory.")
	flags.StringVar(&followupCutoff, "followupCutoff", "", "Patients with a dispensation on or after "+
		"this date count as still in treatment. Defaults to the last date in the cohort.")
	flags.BoolVar(&surv, "survival", false, "Compute persistence survival records, Kaplan-Meier "+
		"curves, and a log-rank test.")
	flags.IntVar(&groupBy, "groupBy", -1, "Column index of the stratification variable for the "+
		"survival analysis. Defaults to the category column.")
	flags.IntVar(&pidCol, "pidCol", 0, "Column index of the patient ID in the dispensation file.")
	flags.IntVar(&categoryCol, "categoryCol", 1, "Column index of the therapeutic category in the "+
		"dispensation file.")
	flags.IntVar(&dateCol, "dateCol", 2, "Column index of the dispensation date in the dispensation "+
		"file.")
	flags.IntVar(&amountCol, "amountCol", 3, "Column index of the dispensed amount in the "+
		"dispensation file.")
	flags.IntVar(&keyCol, "keyCol", -1, "Column index of the dose file join key in the dispensation "+
		"file. Defaults to the category column.")
	flags.IntVar(&doseKeyCol, "doseKeyCol", 0, "Column index of the join key in the dose file.")
	flags.IntVar(&doseCol, "doseCol", 1, "Column index of the standard daily dose in the dose file.")
	flags.StringVar(&name, "name", "run1", "The name of the run. This is used to generate the names "+
		"of the output files.")
	flags.IntVar(&nrOfThreads, "nrOfThreads", 0, "The number of threads adper uses.")
	// parse optional arguments
	parseFlags(flags, 4, adperHelp)
	// parse required arguments
	dispensationFile = getFileName(os.Args[1], adperHelp)
	doseFile = getFileName(os.Args[2], adperHelp)
	outputPath, _ = filepath.Abs(getFileName(os.Args[3], adperHelp))
	outputPath = outputPath + string(filepath.Separator)
	fmt.Println("Output path: ", outputPath)
	// create output directory
	err := os.MkdirAll(filepath.Dir(outputPath), 0700)
	if err != nil {
		panic(err)
	}
	// build an output command line
	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " ", dispensationFile, " ", doseFile, " ", outputPath)
	fmt.Fprint(&command, " --rule ", rule)
	if collapseRepeats {
		fmt.Fprint(&command, " --collapseRepeats")
	}
	fmt.Fprint(&command, " --missingDose ", missingDose)
	if dedupSameDay {
		fmt.Fprint(&command, " --dedupSameDay")
	}
	fmt.Fprint(&command, " --metric ", metric)
	fmt.Fprint(&command, " --unit ", unit)
	fmt.Fprint(&command, " --period ", period)
	fmt.Fprint(&command, " --threshold ", threshold)
	if indexDate != "" {
		fmt.Fprint(&command, " --indexDate ", indexDate)
		fmt.Fprint(&command, " --naiveScope ", naiveScope)
	}
	if followupCutoff != "" {
		fmt.Fprint(&command, " --followupCutoff ", followupCutoff)
	}
	if surv {
		fmt.Fprint(&command, " --survival")
	}
	if groupBy >= 0 {
		fmt.Fprint(&command, " --groupBy ", groupBy)
	}
	fmt.Fprint(&command, " --name ", name)
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
		fmt.Fprint(&command, " --nrOfThreads ", nrOfThreads)
	}
	// start execution
	logger, err := app.NewLogger("info", "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info(programMessage())
	logger.Info("executing command", zap.String("command", command.String()))
	//1. Parse inputs
	cols := app.DispensationColumns{
		PID:      pidCol,
		Category: categoryCol,
		Date:     dateCol,
		Amount:   amountCol,
		Key:      keyCol,
		Strat:    groupBy,
	}
	pMap, invalidDates := app.ParseDispensationData(dispensationFile, cols, true)
	doses := app.ParseDoseTable(doseFile, doseKeyCol, doseCol, true)
	logger.Info("parsed inputs",
		zap.Int("patients", pMap.Ctr),
		zap.Int("invalidDates", invalidDates),
		zap.Int("doseEntries", len(doses)))
	//2. Restrict the cohort
	filters := []cohort.PatientFilter{cohort.NonEmptyFilter()}
	if indexDate != "" {
		index := getDate(indexDate, "indexDate", adperHelp)
		if naiveScope == "patientcategory" {
			filters = append(filters, cohort.NaiveByCategoryFilter(index))
		} else {
			filters = append(filters, cohort.NaiveFilter(index))
		}
	}
	pMap = cohort.ApplyPatientFilters(filters, pMap)
	logger.Info("restricted cohort", zap.Int("patients", pMap.Ctr))
	//3. Segment therapy lines
	lines := cohort.SegmentLines(pMap, getSegmentationRule(rule), collapseRepeats)
	//4. Convert amounts to days of coverage
	report := adherence.ComputeCoverage(pMap, doses, getMissingDosePolicy(missingDose))
	if dedupSameDay {
		adherence.DedupSameDay(pMap)
	}
	logger.Info("computed coverage", zap.Int("rowsWithoutDose", report.MissingDose))
	//5. Score adherence per unit and summarize per category
	cfg := adherence.Config{
		PeriodDays: period,
		Threshold:  threshold,
		Metric:     getMetric(metric),
		Unit:       getUnit(unit),
	}
	results := adherence.Compute(pMap, cfg)
	summaries := adherence.Summarize(results)
	totals := adherence.TotalsOf(results, cfg)
	logger.Info("scored adherence",
		zap.Int("units", totals.N),
		zap.Int("adherent", totals.NAdherent),
		zap.Float64("mean", totals.Mean))
	//6. Classify outcomes and build the line transition table
	cutoff := lastCohortDate(pMap)
	if followupCutoff != "" {
		cutoff = getDate(followupCutoff, "followupCutoff", adperHelp)
	}
	outcomes := cohort.ClassifyOutcomes(pMap, cutoff)
	flows := cohort.BuildFlows(pMap, outcomes)
	//7. Persistence survival
	out := &app.RunOutput{
		Lines:          lines,
		Flows:          flows,
		Outcomes:       outcomes,
		Adherence:      results,
		Summaries:      summaries,
		Totals:         totals,
		CoverageReport: report,
		InvalidDates:   invalidDates,
	}
	if surv {
		records := survival.BuildRecords(pMap, period, cutoff)
		included := survival.Included(records)
		out.HasSurvival = true
		out.Records = records
		out.Curves = survival.Curves(included, period)
		out.LogRank = survival.LogRank(included)
		logger.Info("estimated survival",
			zap.Int("included", len(included)),
			zap.Int("excluded", len(records)-len(included)),
			zap.Float64("chi2", out.LogRank.Chi2),
			zap.Float64("pValue", out.LogRank.PValue))
	}
	//8. Write outputs
	app.WriteLinesToTabFile(lines, outputPath+name+".lines.tab")
	app.WriteFlowsToTabFile(flows, outputPath+name+".flows.tab")
	if err := app.WriteWorkbook(outputPath+name+".xlsx", out); err != nil {
		panic(err)
	}
	logger.Info("wrote results", zap.String("path", outputPath))
}
