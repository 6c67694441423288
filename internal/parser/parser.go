// Package parser turns the engine's line-oriented progress output into
// structured events. Parsing is a pure function over one line; anything the
// grammar does not recognize falls through as an info event so no output is
// ever dropped silently.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/snowmigrate/snowmigrate-api/internal/models"
)

const (
	tableStartedPrefix   = "[INFO] Starting migration of table: "
	tableCompletedPrefix = "[INFO] Completed migration of table: "
	tableErrorPrefix     = "[ERROR] Failed to migrate "
	progressPrefix       = "[PROGRESS] "
)

// progressRe matches `<table>: <percent>% (<processed>/<total> rows)` after
// the [PROGRESS] tag has been stripped.
var progressRe = regexp.MustCompile(`^(\S+): (\d+(?:\.\d+)?)% \((\d+)/(\d+) rows\)$`)

// ParseLine converts one line of engine output into a ProgressEvent.
//
// Recognized shapes (case-sensitive tag at line start):
//
//	[INFO] Starting migration of table: <table>
//	[PROGRESS] <table>: <percent>% (<processed>/<total> rows)
//	[INFO] Completed migration of table: <table>
//	[ERROR] Failed to migrate <table>: <message>
//
// Any other line yields an info event carrying the raw text. Recognized
// shapes with malformed numeric fields yield an anomalous info event rather
// than a progress event.
func ParseLine(line string) models.ProgressEvent {
	switch {
	case strings.HasPrefix(line, tableStartedPrefix):
		table := strings.TrimSpace(line[len(tableStartedPrefix):])
		if table == "" {
			return anomaly(line, "table started without a table name")
		}
		return models.ProgressEvent{Kind: models.EventTableStarted, Table: table, Message: line}

	case strings.HasPrefix(line, tableCompletedPrefix):
		table := strings.TrimSpace(line[len(tableCompletedPrefix):])
		if table == "" {
			return anomaly(line, "table completed without a table name")
		}
		return models.ProgressEvent{Kind: models.EventTableCompleted, Table: table, Message: line}

	case strings.HasPrefix(line, progressPrefix):
		return parseProgress(line)

	case strings.HasPrefix(line, tableErrorPrefix):
		rest := line[len(tableErrorPrefix):]
		table, message, found := strings.Cut(rest, ": ")
		if !found || table == "" {
			return anomaly(line, "error line missing table or message")
		}
		return models.ProgressEvent{Kind: models.EventError, Table: table, Message: message}

	default:
		return models.ProgressEvent{Kind: models.EventInfo, Message: line}
	}
}

func parseProgress(line string) models.ProgressEvent {
	m := progressRe.FindStringSubmatch(line[len(progressPrefix):])
	if m == nil {
		return anomaly(line, "unparsable progress fields")
	}

	percent, err := strconv.ParseFloat(m[2], 64)
	if err != nil || percent < 0 || percent > 100 {
		return anomaly(line, "percent out of range")
	}
	processed, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return anomaly(line, "unparsable processed row count")
	}
	total, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return anomaly(line, "unparsable total row count")
	}
	if processed > total {
		return anomaly(line, "processed rows exceed total")
	}

	return models.ProgressEvent{
		Kind:          models.EventTableProgress,
		Table:         m[1],
		Fraction:      percent / 100,
		ProcessedRows: processed,
		TotalRows:     total,
	}
}

func anomaly(line, reason string) models.ProgressEvent {
	return models.ProgressEvent{
		Kind:    models.EventInfo,
		Message: fmt.Sprintf("%s (%s)", line, reason),
		Anomaly: true,
	}
}
