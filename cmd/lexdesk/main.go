package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/logging"
)

func main() {
	os.Exit(runMain(Execute, os.Stderr))
}

func runMain(execute func() error, stderr io.Writer) int {
	err := execute()
	if err == nil {
		return 0
	}
	code, message := classifyExit(err)
	var ee *exitError
	if errors.As(err, &ee) && ee.silent {
		return code
	}
	if ee != nil && ee.err != nil {
		err = ee.err
	}
	reportFailure(err, message, code, stderr)
	return code
}

// domainExitCodes lets scripts tell a missing integration from a busy one without parsing
// stderr.
var domainExitCodes = []struct {
	err  error
	code int
}{
	{integrations.ErrNotFound, exitNotFound},
	{integrations.ErrSyncInProgress, exitConflict},
	{integrations.ErrIntegrationInactive, exitConflict},
	{integrations.ErrConflict, exitConflict},
	{integrations.ErrInvalidTransition, exitConflict},
	{integrations.ErrInvalidConfig, exitInvalid},
	{integrations.ErrInvalidCredentials, exitInvalid},
	{integrations.ErrUnsupportedProvider, exitInvalid},
}

// classifyExit picks the exit code: explicit exitError codes first, then cancellation,
// then the integration error sentinels.
func classifyExit(err error) (int, string) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, "command failed"
	}
	if errors.Is(err, context.Canceled) {
		return exitCanceled, "command canceled"
	}
	for _, m := range domainExitCodes {
		if errors.Is(err, m.err) {
			return m.code, "command failed"
		}
	}
	return 1, "command failed"
}

func reportFailure(err error, message string, code int, stderr io.Writer) {
	ctx := currentCommandExecutionContext()
	if !ctx.UsesStructuredLog {
		if code == exitCanceled {
			fmt.Fprintln(stderr, "canceled")
			return
		}
		fmt.Fprintln(stderr, err)
		return
	}
	fatalLogger(ctx, stderr).Error(message, "exit_code", code, "error", err)
}

// fatalLogger rebuilds a logger from the environment because failures can happen before
// the command installed its own.
func fatalLogger(ctx commandExecutionContext, stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, ctx.CommandPath)
}
