package control

import (
	"github.com/core-tools/hsu-procsup/pkg/errors"
)

const (
	SuccessPrefix = "SUCCESS: "
	ErrorPrefix   = "ERROR: "
)

// Result is the outcome of one dispatched command. Kind keeps the failure category.
type Result struct {
	Success bool
	Message string
	Kind    errors.ErrorType
}

func Succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

func Failed(kind errors.ErrorType, message string) Result {
	return Result{Success: false, Message: message, Kind: kind}
}

// String renders the reply sent over the control channel
func (r Result) String() string {
	if r.Success {
		return SuccessPrefix + r.Message
	}
	return ErrorPrefix + r.Message
}
