// loader.go implements configuration loading.
//
// The loading sequence is:
//  1. Force the process time zone to UTC; local wall clocks are computed
//     explicitly per planner.
//  2. Load .env via godotenv (ignored when absent, never overrides the OS env).
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers through the
//     SecretProvider and export the plaintext under the target name.
//  4. Populate Config from envconfig tags.
//  5. Attach linker-injected BuildInfo.
//  6. Validate with go-playground/validator.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig with a category for diagnostics.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a pointer variable: EMAIL_PASS_SSM_PARAM holds the
// SSM path whose value becomes EMAIL_PASS.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that skips SSM resolution.
const localEnv = "local"

// ssmTimeout bounds secret resolution during a cold start.
const ssmTimeout = 30 * time.Second

// loaderDeps holds the OS hooks used by the loader so tests can run without
// touching the process environment.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the service configuration. provider may be
// nil when APP_ENV=local or when no *_SSM_PARAM variables are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	if deps.dotenv != nil {
		// A missing .env is the normal case outside local development.
		_ = deps.dotenv()
	}

	appEnv, ok := deps.lookupEnv("APP_ENV")
	if !ok || appEnv == "" {
		return nil, &ConfigError{
			Type:    ErrMissingEnv,
			Message: "APP_ENV must be set (local, dev, staging or prod)",
		}
	}

	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: describeValidation(err),
			Err:     err,
		}
	}

	return &cfg, nil
}

// describeValidation lists the failing fields so the startup log names the
// variables to fix.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "configuration validation failed"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	sort.Strings(fields)
	return "configuration validation failed: " + strings.Join(fields, ", ")
}

// ResolveSecrets runs only the SSM step, for entry points that need secrets
// exported before anything else reads the environment.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// ssmBinding ties an SSM path to the variable it populates.
type ssmBinding struct {
	target string
	path   string
}

// collectSSMBindings scans the environment for pointer variables whose target
// is not already set. Directly set variables always win over SSM.
func collectSSMBindings(deps loaderDeps) []ssmBinding {
	var bindings []ssmBinding
	for _, kv := range deps.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		bindings = append(bindings, ssmBinding{target: target, path: value})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].target < bindings[j].target })
	return bindings
}

func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	bindings := collectSSMBindings(deps)
	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targets := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targets = append(targets, b.target)
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required to resolve: " + strings.Join(targets, ", "),
		}
	}

	paths := make([]string, 0, len(bindings))
	for _, b := range bindings {
		paths = append(paths, b.path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, b := range bindings {
		value, ok := resolved[b.path]
		if !ok {
			missing = append(missing, b.target)
			continue
		}
		if err := deps.setEnv(b.target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to export resolved value for " + b.target,
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
