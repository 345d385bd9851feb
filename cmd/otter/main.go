// Command otter trains a model on a CSV file from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/otter-ml/otter/pkg/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	if reason, ok := errors.IsRunAborted(err); ok && reason == errors.AbortCancelled {
		return 130
	}
	if errors.IsConfigError(err) {
		return 2
	}
	return 1
}
