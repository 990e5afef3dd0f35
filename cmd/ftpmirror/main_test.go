package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/ftpmirror/internal/config"
	"github.com/italolelis/ftpmirror/internal/mirror"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

type stubJobs struct {
	summary transfer.Summary
	err     error
}

func (s stubJobs) Run(context.Context, transfer.Job) (transfer.Summary, error) {
	return s.summary, s.err
}

func jobAt(time.Time) transfer.Job { return transfer.Job{} }

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	ok := mirror.NewRunner(stubJobs{summary: transfer.Summarize("j", nil, 0)}, jobAt)
	require.NoError(t, runOnce(ctx, ok))

	partial := mirror.NewRunner(stubJobs{summary: transfer.Summarize("j", []transfer.Outcome{
		{Filename: "a", Status: transfer.StatusFetchFailed},
	}, 0)}, jobAt)
	require.NoError(t, runOnce(ctx, partial), "partial failure is not a process failure")

	authErr := &transfer.AuthError{Host: "h", User: "u"}
	failed := mirror.NewRunner(stubJobs{summary: transfer.FailedSummary("j", authErr), err: authErr}, jobAt)
	require.ErrorIs(t, runOnce(ctx, failed), authErr)
}

func TestBuildStore(t *testing.T) {
	cfg := &config.Config{Destination: "ftp"}

	_, err := buildStore(context.Background(), cfg)
	require.Error(t, err)

	cfg.Destination = "minio"
	cfg.S3.Endpoint = "http://localhost:9000"

	store, err := buildStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, store)
}
