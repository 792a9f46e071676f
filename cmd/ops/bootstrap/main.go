// Package main implements the bootstrap CLI for the meal reminder service.
//
// It walks an operator through the secrets the service reads from AWS SSM
// Parameter Store, writes them as SecureString parameters and prints the
// *_SSM_PARAM variables the deployment must set so config.LoadConfig can
// resolve them at cold start.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=reminders-prod --region=eu-west-1
//	go run ./cmd/ops/bootstrap --env=dev --skip-optional
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Session holds what session initialization established.
type Session struct {
	Environment string
	AWSProfile  string
	AWSRegion   string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
	Logger      *slog.Logger
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	skipOptional := flag.Bool("skip-optional", false, "Skip optional parameters without prompting")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Meal Reminder Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Populates the SSM parameters the reminder service reads at startup.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--skip-optional]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	stdin := bufio.NewScanner(os.Stdin)
	if sess.Environment == "prod" && !confirmProduction(sess, stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	printBanner(sess, os.Stderr)

	runner := NewRunner(NewSSMManager(sess), stdin, os.Stderr)
	runner.SkipOptional = *skipOptional
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bootstrap completed successfully",
		"env", sess.Environment,
		"account", sess.AccountID,
		"region", sess.AWSRegion,
	)
}

// initializeSession loads the AWS configuration and confirms the active
// identity with STS GetCallerIdentity before anything is written.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	sess := &Session{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   aws.ToString(identity.Account),
		CallerARN:   aws.ToString(identity.Arn),
		AWSConfig:   cfg,
		Logger:      logger,
	}
	logger.Info("AWS identity verified", "account_id", sess.AccountID, "arn", sess.CallerARN, "region", region)
	return sess, nil
}

// confirmProduction returns true only if the operator types "yes".
func confirmProduction(sess *Session, in *bufio.Scanner, out io.Writer) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintf(out, "  Account: %s\n", sess.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", sess.AWSRegion)
	fmt.Fprintf(out, "  ARN:     %s\n", sess.CallerARN)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprint(out, "\nType 'yes' to continue: ")

	if !in.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(in.Text()), "yes")
}

func printBanner(sess *Session, out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  Meal Reminder Bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", sess.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", sess.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", sess.AWSRegion)
	fmt.Fprintf(out, "  Identity:     %s\n", sess.CallerARN)
	if sess.AWSProfile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", sess.AWSProfile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ssmPrefix(sess.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
}
