package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	protocolsParsed   atomic.Int64
	clausesExtracted  atomic.Int64
	clausesDropped    atomic.Int64
	patientsGenerated atomic.Int64
	patientsRejected  atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
)

func ObserveParse(clauses, dropped int) {
	protocolsParsed.Add(1)
	clausesExtracted.Add(int64(clauses))
	clausesDropped.Add(int64(dropped))
}

func ObserveGeneration(generated, rejected int) {
	patientsGenerated.Add(int64(generated))
	patientsRejected.Add(int64(rejected))
}

func ObserveRunCompleted() {
	runsCompleted.Add(1)
}

func ObserveRunFailed() {
	runsFailed.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP trialforge_protocols_parsed_total Number of protocol texts parsed since start.\n")
	fmt.Fprintf(w, "# TYPE trialforge_protocols_parsed_total counter\n")
	fmt.Fprintf(w, "trialforge_protocols_parsed_total %d\n", protocolsParsed.Load())

	fmt.Fprintf(w, "# HELP trialforge_clauses_extracted_total Number of eligibility clauses returned by the extraction service.\n")
	fmt.Fprintf(w, "# TYPE trialforge_clauses_extracted_total counter\n")
	fmt.Fprintf(w, "trialforge_clauses_extracted_total %d\n", clausesExtracted.Load())

	fmt.Fprintf(w, "# HELP trialforge_clauses_dropped_total Number of clauses dropped as parse diagnostics.\n")
	fmt.Fprintf(w, "# TYPE trialforge_clauses_dropped_total counter\n")
	fmt.Fprintf(w, "trialforge_clauses_dropped_total %d\n", clausesDropped.Load())

	fmt.Fprintf(w, "# HELP trialforge_patients_generated_total Number of synthetic patients kept by the generator.\n")
	fmt.Fprintf(w, "# TYPE trialforge_patients_generated_total counter\n")
	fmt.Fprintf(w, "trialforge_patients_generated_total %d\n", patientsGenerated.Load())

	fmt.Fprintf(w, "# HELP trialforge_patients_rejected_total Number of candidate draws rejected during constrained generation.\n")
	fmt.Fprintf(w, "# TYPE trialforge_patients_rejected_total counter\n")
	fmt.Fprintf(w, "trialforge_patients_rejected_total %d\n", patientsRejected.Load())

	fmt.Fprintf(w, "# HELP trialforge_simulation_runs_completed_total Number of simulation runs that reached the aggregated state.\n")
	fmt.Fprintf(w, "# TYPE trialforge_simulation_runs_completed_total counter\n")
	fmt.Fprintf(w, "trialforge_simulation_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP trialforge_simulation_runs_failed_total Number of simulation runs that ended in the failed state.\n")
	fmt.Fprintf(w, "# TYPE trialforge_simulation_runs_failed_total counter\n")
	fmt.Fprintf(w, "trialforge_simulation_runs_failed_total %d\n", runsFailed.Load())
}
