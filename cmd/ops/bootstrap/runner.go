package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxRetries bounds invalid entries per step.
const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// Step outcomes.
const (
	actionWritten     = "written"
	actionGenerated   = "generated"
	actionOverwritten = "overwritten"
	actionSkipped     = "skipped"
	actionKept        = "kept"
)

type stepResult struct {
	Step   Step
	Action string
	Path   string
}

// Runner walks the inventory.
type Runner struct {
	SSM          *SSMManager
	In           *bufio.Scanner
	Out          io.Writer
	SkipOptional bool

	inventory []Step
}

// NewRunner creates a runner over the default inventory.
func NewRunner(m *SSMManager, in *bufio.Scanner, out io.Writer) *Runner {
	return &Runner{SSM: m, In: in, Out: out, inventory: Inventory()}
}

// Run processes every step, then prints a summary and the variables the
// deployment needs.
func (r *Runner) Run(ctx context.Context) error {
	results := make([]stepResult, 0, len(r.inventory))
	for i, step := range r.inventory {
		fmt.Fprintf(r.Out, "\n[%d/%d] %s\n", i+1, len(r.inventory), step.Label)
		res, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.Label, err)
		}
		results = append(results, res)
	}
	r.printSummary(results)
	return nil
}

func (r *Runner) processStep(ctx context.Context, step Step) (stepResult, error) {
	path := r.SSM.Path(step.Key)
	res := stepResult{Step: step, Path: path}

	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Out, "  Skipped (--skip-optional)\n")
		res.Action = actionSkipped
		return res, nil
	}

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return res, err
	}
	if exists {
		fmt.Fprintf(r.Out, "  Parameter already exists: %s\n", path)
		overwrite, err := r.ask("  [K]eep or [O]verwrite? ", map[string]bool{"k": false, "keep": false, "o": true, "overwrite": true})
		if err != nil {
			return res, err
		}
		if !overwrite {
			res.Action = actionKept
			return res, nil
		}
	}

	var value string
	switch step.Source {
	case SourceGenerated:
		value, err = GenerateSecureToken()
		if err != nil {
			return res, err
		}
		fmt.Fprintf(r.Out, "  Auto-generated (%d chars)\n", len(value))
	default:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Out, "  Skipped.\n")
			res.Action = actionSkipped
			return res, nil
		}
		if err != nil {
			return res, err
		}
	}

	if err := r.SSM.PutSecret(ctx, path, value, exists); err != nil {
		return res, err
	}

	switch {
	case exists:
		res.Action = actionOverwritten
	case step.Source == SourceGenerated:
		res.Action = actionGenerated
	default:
		res.Action = actionWritten
	}
	fmt.Fprintf(r.Out, "  Stored: %s\n", path)
	return res, nil
}

// promptAndValidate never echoes the value back; only its length is shown.
func (r *Runner) promptAndValidate(ctx context.Context, step Step) (string, error) {
	fmt.Fprintf(r.Out, "\n  %s\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fmt.Fprint(r.Out, "  > ")
		line, err := r.scanLine()
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.Label, err)
		}
		input := strings.TrimSpace(line)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			fmt.Fprintf(r.Out, "  A value is required.\n")
			continue
		}
		fmt.Fprintf(r.Out, "  Received %d chars.\n", len(input))

		if step.Validate != nil {
			if err := step.Validate(ctx, input); err != nil {
				fmt.Fprintf(r.Out, "  Validation failed: %v (%d/%d)\n", err, attempt, maxRetries)
				continue
			}
		}
		return input, nil
	}
	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.Label)
}

func (r *Runner) ask(prompt string, choices map[string]bool) (bool, error) {
	for {
		fmt.Fprint(r.Out, prompt)
		line, err := r.scanLine()
		if err != nil {
			return false, err
		}
		if v, ok := choices[strings.ToLower(strings.TrimSpace(line))]; ok {
			return v, nil
		}
	}
}

func (r *Runner) scanLine() (string, error) {
	if !r.In.Scan() {
		if err := r.In.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.In.Text(), nil
}

func (r *Runner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Out, "\n============================================================\n")
	fmt.Fprintf(r.Out, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Out, "============================================================\n")
	for _, res := range results {
		fmt.Fprintf(r.Out, "  %-14s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Step.Label)
	}

	fmt.Fprintf(r.Out, "\n  Set these variables on the reminder-cron and api functions:\n\n")
	for _, res := range results {
		if res.Action == actionSkipped {
			continue
		}
		fmt.Fprintf(r.Out, "    %s_SSM_PARAM=%s\n", res.Step.EnvVar, res.Path)
	}
	fmt.Fprintln(r.Out)
}
