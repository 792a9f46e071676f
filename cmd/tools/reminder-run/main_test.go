package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealreminder/internal/types"
)

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planners.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"planners": [
			{"ownerId": "U1", "timeZone": "America/New_York", "planner": {"Monday": {"Breakfast": {"title": "Oats"}, "Dinner": {"strMeal": "Tacos"}}}}
		],
		"users": [{"id": "U1", "profile": {"email": "u1@example.com"}}]
	}`), 0o600))
	return path
}

func setEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("EMAIL_PROVIDER", "stub")
	t.Setenv("EMAIL_USER", "me@example.com")
	// run() overwrites these for --seed; registering them restores the originals.
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("PLANNER_SEED_FILE", "")
	t.Setenv("LEDGER_BACKEND", "store")
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	o, err := parseFlags([]string{"--debug", "--dry-run", "--force", "--ignore-time-match", "--lead=15", "--at=2026-10-14T18:30:00+02:00"}, &stderr)
	require.NoError(t, err)

	assert.True(t, o.run.Debug)
	assert.True(t, o.run.DryRun)
	assert.True(t, o.run.Force)
	assert.True(t, o.run.IgnoreTimeMatch)
	assert.Equal(t, 15, o.run.LeadMinutes)
	assert.Equal(t, "cli", o.run.Trigger)
	assert.Equal(t, time.Date(2026, 10, 14, 16, 30, 0, 0, time.UTC), o.at)
}

func TestParseFlags_Errors(t *testing.T) {
	var stderr bytes.Buffer
	for _, args := range [][]string{
		{"--at=yesterday"},
		{"--lead=-5"},
		{"--lead=0"},
		{"extra"},
		{"--unknown"},
	} {
		_, err := parseFlags(args, &stderr)
		assert.Error(t, err, "%v", args)
	}
}

func TestRun_ReplayMinuteWithSeed(t *testing.T) {
	setEnv(t)
	seed := writeSeed(t)

	// Monday 2024-01-15 19:30 in New York.
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--seed=" + seed, "--at=2024-01-16T00:30:00Z", "--debug"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var report types.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, 1, report.Summary.Sent)
	assert.Equal(t, "cli", report.Options.Trigger)
	assert.Equal(t, 30, report.Options.LeadMinutes)
	require.Len(t, report.Users, 1)
	assert.Equal(t, "19:30", report.Users[0].NowHHMM)
}

func TestRun_IgnoreTimeMatchDryRun(t *testing.T) {
	setEnv(t)
	seed := writeSeed(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--seed=" + seed, "--at=2024-01-15T15:00:00Z", "--ignore-time-match", "--dry-run"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var report types.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, 2, report.Summary.Matches)
	assert.Equal(t, 0, report.Summary.Sent)
	assert.Empty(t, report.Users, "users are only reported with --debug")
}

func TestRun_BadFlagsExit2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"--at=nope"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}

func TestRun_MailerFailureExit1(t *testing.T) {
	setEnv(t)
	t.Setenv("EMAIL_PROVIDER", "smtp")
	t.Setenv("EMAIL_PASS", "")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--seed=" + writeSeed(t)}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "run failed")

	var report types.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report), "the report is printed even when the run fails")
	assert.Equal(t, 1, report.Summary.Errors)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, "DEBUG", levelFor("debug").String())
	assert.Equal(t, "WARN", levelFor("warn").String())
	assert.Equal(t, "INFO", levelFor("nonsense").String())
}
