// Package scheduler drives the cluster batch scheduler's command-line
// interface and normalizes its output.
package scheduler

import (
	"strings"

	"github.com/gridlink-labs/gridlink/internal/models"
)

// StatusRow is one normalized row of a scheduler status query.
type StatusRow struct {
	SchedulerJobID string
	State          models.JobStatus
	RawState       string
	Reason         string // optional, often absent
}

// stateTable maps SLURM state codes (short and long forms) to the
// normalized status enum. Suffixes like "CANCELLED by 1234" and the "+"
// marker on sacct states are stripped before lookup.
var stateTable = map[string]models.JobStatus{
	"PD": models.StatusPending, "PENDING": models.StatusPending,
	"CF": models.StatusPending, "CONFIGURING": models.StatusPending,
	"RQ": models.StatusPending, "REQUEUED": models.StatusPending,
	"S": models.StatusPending, "SUSPENDED": models.StatusPending,

	"R": models.StatusRunning, "RUNNING": models.StatusRunning,
	"CG": models.StatusRunning, "COMPLETING": models.StatusRunning,

	"CD": models.StatusCompleted, "COMPLETED": models.StatusCompleted,

	"F": models.StatusFailed, "FAILED": models.StatusFailed,
	"TO": models.StatusFailed, "TIMEOUT": models.StatusFailed,
	"NF": models.StatusFailed, "NODE_FAIL": models.StatusFailed,
	"BF": models.StatusFailed, "BOOT_FAIL": models.StatusFailed,
	"OOM": models.StatusFailed, "OUT_OF_MEMORY": models.StatusFailed,
	"DL": models.StatusFailed, "DEADLINE": models.StatusFailed,
	"PR": models.StatusFailed, "PREEMPTED": models.StatusFailed,

	"CA": models.StatusCancelled, "CANCELLED": models.StatusCancelled,
}

// ParseState maps one scheduler state code to the normalized enum. Codes
// it does not recognize map to StatusUnknown so the next poll can try
// again; synchronization is eventually consistent, not single-shot.
func ParseState(code string) models.JobStatus {
	code = strings.TrimSuffix(strings.TrimSpace(code), "+")
	code = strings.ToUpper(code)
	// sacct renders cancellations as "CANCELLED by <uid>".
	if fields := strings.Fields(code); len(fields) > 0 {
		code = fields[0]
	}
	if st, ok := stateTable[code]; ok {
		return st
	}
	return models.StatusUnknown
}

// ParseQueryOutput parses scheduler query output into status rows. It
// accepts both whitespace-separated (squeue -h -o "%i %T %r") and
// pipe-separated (sacct -n -X -P -o JobID,State) row formats. Rows with
// a missing state column yield StatusUnknown; blank lines are skipped.
func ParseQueryOutput(out string) []StatusRow {
	var rows []StatusRow
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var fields []string
		if strings.ContainsRune(line, '|') {
			fields = strings.Split(line, "|")
		} else {
			fields = strings.Fields(line)
		}

		row := StatusRow{SchedulerJobID: strings.TrimSpace(fields[0])}
		if row.SchedulerJobID == "" {
			continue
		}
		// Array/step ids like "555.batch" belong to the parent job.
		if i := strings.IndexByte(row.SchedulerJobID, '.'); i >= 0 {
			continue
		}
		if len(fields) > 1 {
			row.RawState = strings.TrimSpace(fields[1])
			row.State = ParseState(row.RawState)
		} else {
			row.State = models.StatusUnknown
		}
		if len(fields) > 2 {
			row.Reason = strings.TrimSpace(strings.Join(fields[2:], " "))
		}
		rows = append(rows, row)
	}
	return rows
}
