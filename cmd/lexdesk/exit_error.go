package main

import "fmt"

// Exit codes beyond the generic failure.
const (
	exitInvalid  = 2
	exitNotFound = 3
	exitConflict = 4
	exitCanceled = 130
)

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// silentExit ends the command with code after it already reported the problem itself.
func silentExit(code int) error {
	return &exitError{code: code, silent: true}
}
