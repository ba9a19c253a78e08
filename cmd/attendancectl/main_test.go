package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "usage: attendancectl")
}

func TestRunUnknownCommand(t *testing.T) {
	t.Setenv("ORG_TIMEZONE", "UTC")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run(context.Background(), []string{"payroll"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "commands:")
}

func TestHolidaysImportRequiresFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := importHolidays(context.Background(), nil, nil, []string{"import"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "-file is required")
}
