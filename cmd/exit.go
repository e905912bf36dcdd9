package cmd

import (
	"errors"

	"github.com/dhcgn/spam-report/classifier"
	"github.com/dhcgn/spam-report/mailbox"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitAuthentication = 2
	ExitConnectivity   = 3
	ExitFolderNotFound = 4
	ExitModelLoad      = 5
)

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, mailbox.ErrAuthentication):
		return ExitAuthentication
	case errors.Is(err, mailbox.ErrConnectivity):
		return ExitConnectivity
	case errors.Is(err, mailbox.ErrFolderNotFound):
		return ExitFolderNotFound
	case errors.Is(err, classifier.ErrModelLoad):
		return ExitModelLoad
	default:
		return ExitFailure
	}
}
