package main

import (
	"context"
	"testing"

	"github.com/aristath/instrument-sync/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		runErr   error
		result   ingest.Result
		expected int
	}{
		{name: "clean load", result: ingest.Result{Ingested: 3, Absent: 1}, expected: 0},
		{name: "rejected record", result: ingest.Result{Ingested: 2, Rejected: 1, HadFailure: true}, expected: 1},
		{name: "panicked ingest", result: ingest.Result{Panicked: 1, HadFailure: true}, expected: 1},
		{name: "aborted", runErr: context.Canceled, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, report(zerolog.Nop(), tt.runErr, tt.result))
		})
	}
}
