package sandbox

import (
	"fmt"
	"regexp"
	"time"
)

// SuccessMessage is returned when code completes without setting __result__.
const SuccessMessage = "Code executed successfully"

// Kind classifies an execution failure.
type Kind string

const (
	KindSyntax     Kind = "SyntaxError"
	KindPermission Kind = "PermissionError"
	KindRuntime    Kind = "RuntimeError"
)

// Mode records how a snippet was evaluated.
type Mode string

const (
	// ModeDirect evaluates the snippet as a plain script.
	ModeDirect Mode = "direct"
	// ModeSuspended evaluates the snippet as the body of an async function.
	ModeSuspended Mode = "suspended"
)

var awaitMarker = regexp.MustCompile(`\bawait\b`)

// Request is one code submission.
type Request struct {
	Code string
	// Suspends is set when the code contains an await expression. Such code
	// is retried as an async body if it does not compile as a script.
	Suspends bool
}

// NewRequest builds a Request, detecting suspension points in code.
func NewRequest(code string) Request {
	return Request{Code: code, Suspends: awaitMarker.MatchString(code)}
}

// ExecError is a classified execution failure.
type ExecError struct {
	Kind    Kind
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the outcome of one execution.
type Result struct {
	// Output is the stringified __result__, or SuccessMessage.
	Output string
	// Err is set when execution failed; Output is empty then.
	Err *ExecError
	// Stdout collects print and console output.
	Stdout string
	// Files lists absolute paths written during the run.
	Files    []string
	Mode     Mode
	Duration time.Duration
}

// IsError reports whether the execution failed.
func (r Result) IsError() bool {
	return r.Err != nil
}

// Text renders the result the way the exec_code tool reports it.
func (r Result) Text() string {
	if r.Err == nil {
		return r.Output
	}
	if r.Err.Kind == KindSyntax {
		return "Syntax error in code: " + r.Err.Message
	}
	return "Error executing code: " + r.Err.Error()
}
