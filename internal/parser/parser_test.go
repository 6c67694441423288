package parser_test

import (
	"strings"
	"testing"

	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineTableStarted(t *testing.T) {
	ev := parser.ParseLine("[INFO] Starting migration of table: public.users")
	assert.Equal(t, models.EventTableStarted, ev.Kind)
	assert.Equal(t, "public.users", ev.Table)
	assert.False(t, ev.Anomaly)
}

func TestParseLineTableCompleted(t *testing.T) {
	ev := parser.ParseLine("[INFO] Completed migration of table: public.users")
	assert.Equal(t, models.EventTableCompleted, ev.Kind)
	assert.Equal(t, "public.users", ev.Table)
}

func TestParseLineProgress(t *testing.T) {
	ev := parser.ParseLine("[PROGRESS] public.users: 50% (500000/1000000 rows)")
	require.Equal(t, models.EventTableProgress, ev.Kind)
	assert.Equal(t, "public.users", ev.Table)
	assert.InDelta(t, 0.5, ev.Fraction, 1e-9)
	assert.Equal(t, int64(500000), ev.ProcessedRows)
	assert.Equal(t, int64(1000000), ev.TotalRows)
}

func TestParseLineProgressFractionalPercent(t *testing.T) {
	ev := parser.ParseLine("[PROGRESS] sales.orders: 12.5% (125/1000 rows)")
	require.Equal(t, models.EventTableProgress, ev.Kind)
	assert.InDelta(t, 0.125, ev.Fraction, 1e-9)
}

func TestParseLineError(t *testing.T) {
	ev := parser.ParseLine("[ERROR] Failed to migrate public.users: connection reset by peer")
	require.Equal(t, models.EventError, ev.Kind)
	assert.Equal(t, "public.users", ev.Table)
	assert.Equal(t, "connection reset by peer", ev.Message)
}

func TestParseLineUnknownShapeIsInfo(t *testing.T) {
	line := "Initializing staging area s3://bucket/prefix"
	ev := parser.ParseLine(line)
	assert.Equal(t, models.EventInfo, ev.Kind)
	assert.Equal(t, line, ev.Message)
	assert.False(t, ev.Anomaly)
}

func TestParseLineMalformedNumericsAreAnomalies(t *testing.T) {
	cases := []string{
		"[PROGRESS] public.users: abc% (1/2 rows)",
		"[PROGRESS] public.users: 150% (1/2 rows)",
		"[PROGRESS] public.users: 50% (x/y rows)",
		"[PROGRESS] public.users 50% (1/2 rows)",
	}
	for _, line := range cases {
		ev := parser.ParseLine(line)
		assert.Equal(t, models.EventInfo, ev.Kind, line)
		assert.True(t, ev.Anomaly, line)
		assert.Contains(t, ev.Message, line)
	}
}

func TestParseLineProcessedExceedsTotal(t *testing.T) {
	ev := parser.ParseLine("[PROGRESS] public.users: 50% (2000/1000 rows)")
	assert.Equal(t, models.EventInfo, ev.Kind)
	assert.True(t, ev.Anomaly)
}

func TestParseLineErrorMissingMessage(t *testing.T) {
	ev := parser.ParseLine("[ERROR] Failed to migrate public.users")
	assert.Equal(t, models.EventInfo, ev.Kind)
	assert.True(t, ev.Anomaly)
}

func TestLineScannerDeliversLines(t *testing.T) {
	s := parser.NewLineScanner(strings.NewReader("first\nsecond\r\nthird"))

	require.True(t, s.Scan())
	line, truncated := s.Line()
	assert.Equal(t, "first", line)
	assert.False(t, truncated)

	require.True(t, s.Scan())
	line, _ = s.Line()
	assert.Equal(t, "second", line)

	// Final line has no terminator but is still delivered.
	require.True(t, s.Scan())
	line, _ = s.Line()
	assert.Equal(t, "third", line)

	assert.False(t, s.Scan())
	assert.NoError(t, s.Err())
}

func TestLineScannerEmptyStream(t *testing.T) {
	s := parser.NewLineScanner(strings.NewReader(""))
	assert.False(t, s.Scan())
	assert.NoError(t, s.Err())
}

func TestLineScannerTruncatesOversizedLine(t *testing.T) {
	long := strings.Repeat("x", parser.MaxLineBytes+4096)
	s := parser.NewLineScanner(strings.NewReader(long + "\nnext\n"))

	require.True(t, s.Scan())
	line, truncated := s.Line()
	assert.True(t, truncated)
	assert.Len(t, line, parser.MaxLineBytes)

	// The remainder of the oversized line is discarded, not misread as a
	// second line.
	require.True(t, s.Scan())
	line, truncated = s.Line()
	assert.Equal(t, "next", line)
	assert.False(t, truncated)
}
