package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// exitFunc is swapped in tests.
var exitFunc = os.Exit

// exitInfo mirrors the foundry catalog entry for an exit code.
type exitInfo struct {
	Code        int
	Name        string
	Description string
	Category    string
}

func lookupExitInfo(code foundry.ExitCode) (exitInfo, bool) {
	info, ok := foundry.GetExitCodeInfo(code)
	if !ok {
		return exitInfo{}, false
	}
	return exitInfo{
		Code:        info.Code,
		Name:        info.Name,
		Description: info.Description,
		Category:    info.Category,
	}, true
}

// exitFields describes an exit code and, for envelopes, the structured error.
// It returns the underlying error to log in place of err.
func exitFields(info exitInfo, err error) ([]zap.Field, error) {
	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}

	envelope, ok := err.(*errors.ErrorEnvelope)
	if !ok {
		return fields, err
	}

	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.String("error_message", envelope.Message),
		zap.String("correlation_id", envelope.CorrelationID),
	)
	if envelope.Context != nil {
		fields = append(fields, zap.Any("error_context", envelope.Context))
	}
	if original, ok := envelope.Original.(error); ok && original != nil {
		return fields, original
	}
	return fields, err
}

// ExitWithCode logs msg with foundry exit code metadata and exits. A nil
// logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := lookupExitInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		exitFunc(int(exitCode))
		return
	}

	if logger == nil {
		writeFatal(info, msg, err)
		exitFunc(info.Code)
		return
	}

	fields, cause := exitFields(info, err)
	fields = append(fields, zap.Error(cause))
	logger.Error(msg, fields...)

	exitFunc(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := lookupExitInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		exitFunc(int(exitCode))
		return
	}

	writeFatal(info, msg, err)
	exitFunc(info.Code)
}

func writeFatal(info exitInfo, msg string, err error) {
	switch envelope, ok := err.(*errors.ErrorEnvelope); {
	case err == nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	case ok:
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if original, ok := envelope.Original.(error); ok && original != nil {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", original)
		}
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
}
