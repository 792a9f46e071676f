// Package handlers contains the HTTP handlers of the meal reminder service.
//
// The reminder trigger is invoked by an external scheduler (Vercel cron,
// EventBridge API destination, a plain crontab with curl) and by operators
// running a manual pass. Every route shares the same bearer-secret guard and
// the same flag parsing.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mealreminder/internal/core"
	"mealreminder/internal/types"
)

// Trigger routes.
const (
	CronPath   = "/api/cron/send-reminders"
	AliasPath  = "/api/run-meal-reminders"
	LegacyPath = "/run-meal-reminders"
)

// MsgRunFailed is returned when a run cannot proceed at all.
const MsgRunFailed = "Failed to run reminders"

// ReminderRunner executes one reminder pass.
type ReminderRunner interface {
	Run(ctx context.Context, opts types.RunOptions) (*types.RunReport, error)
}

// RemindersHandler serves the reminder trigger routes.
type RemindersHandler struct {
	runner      ReminderRunner
	secret      types.SecretString
	leadMinutes int
	runTimeout  time.Duration
	logger      *slog.Logger
}

// NewRemindersHandler builds the trigger handler. runTimeout bounds each run
// (zero leaves the request deadline in charge).
func NewRemindersHandler(runner ReminderRunner, secret types.SecretString, leadMinutes int, runTimeout time.Duration, logger *slog.Logger) *RemindersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemindersHandler{
		runner:      runner,
		secret:      secret,
		leadMinutes: leadMinutes,
		runTimeout:  runTimeout,
		logger:      logger,
	}
}

// RegisterRoutes mounts the trigger routes behind RequireBearerSecret. Other
// methods on these paths fall through to the router's 405 handler.
func (h *RemindersHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(core.RequireBearerSecret(h.secret, h.logger))

		r.Get(CronPath, h.Trigger)
		r.Post(CronPath, h.Trigger)
		r.Get(AliasPath, h.Trigger)
		r.Post(AliasPath, h.Trigger)
		r.Post(LegacyPath, h.Trigger)
	})
}

// TriggerResponse is the success body of a trigger call.
type TriggerResponse struct {
	Success bool             `json:"success"`
	Report  *types.RunReport `json:"report"`
}

// Trigger parses the run flags, executes one pass and returns its report.
func (h *RemindersHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	opts, err := h.parseOptions(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	h.logger.InfoContext(ctx, "Reminder trigger received",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.String("request_id", types.GetRequestID(ctx)),
		slog.Bool("debug", opts.Debug),
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("force", opts.Force),
		slog.Bool("ignore_time_match", opts.IgnoreTimeMatch),
	)

	report, err := h.runner.Run(ctx, opts)
	if err != nil {
		h.logger.ErrorContext(ctx, "Reminder run failed", slog.String("error", err.Error()))
		core.Failure(w, r, http.StatusInternalServerError, MsgRunFailed)
		return
	}
	core.JSON(w, r, http.StatusOK, TriggerResponse{Success: true, Report: report})
}

// flagNames maps accepted flag spellings to the option they set.
var flagNames = map[string]string{
	"debug":             "debug",
	"dryrun":            "dryRun",
	"dry_run":           "dryRun",
	"force":             "force",
	"ignoretimematch":   "ignoreTimeMatch",
	"ignore_time_match": "ignoreTimeMatch",
}

// parseOptions merges flags from the query string and, for POST, a JSON
// body. A flag set in either place is on.
func (h *RemindersHandler) parseOptions(w http.ResponseWriter, r *http.Request) (types.RunOptions, error) {
	set := make(map[string]bool)

	for key, values := range r.URL.Query() {
		name, ok := flagNames[strings.ToLower(key)]
		if !ok || len(values) == 0 {
			continue
		}
		if truthy(values[len(values)-1]) {
			set[name] = true
		}
	}

	if r.Method == http.MethodPost {
		var body map[string]any
		if err := core.DecodeJSON(w, r, &body); err != nil {
			return types.RunOptions{}, err
		}
		for key, v := range body {
			name, ok := flagNames[strings.ToLower(key)]
			if ok && truthy(v) {
				set[name] = true
			}
		}
	}

	trigger := "http"
	if r.URL.Path == CronPath {
		trigger = "cron"
	}
	return types.RunOptions{
		Debug:           set["debug"],
		DryRun:          set["dryRun"],
		Force:           set["force"],
		IgnoreTimeMatch: set["ignoreTimeMatch"],
		LeadMinutes:     h.leadMinutes,
		Trigger:         trigger,
	}, nil
}

// truthy accepts true, 1, "1", "true" and "yes" (case-insensitive).
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "true" || s == "yes" {
			return true
		}
		n, err := strconv.Atoi(s)
		return err == nil && n == 1
	default:
		return false
	}
}
