package errors

import (
	"strings"
	"sync"
)

// ErrorCollection accumulates errors from operations that must keep going after a failure
type ErrorCollection struct {
	errors []error
	mutex  sync.Mutex
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (ec *ErrorCollection) Add(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

func (ec *ErrorCollection) HasErrors() bool {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return len(ec.errors) > 0
}

func (ec *ErrorCollection) Errors() []error {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return append([]error(nil), ec.errors...)
}

func (ec *ErrorCollection) Error() string {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()

	messages := make([]string, 0, len(ec.errors))
	for _, err := range ec.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ToError returns nil for an empty collection, the single error for one entry,
// and an internal error wrapping the collection otherwise
func (ec *ErrorCollection) ToError() error {
	errs := ec.Errors()
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return NewInternalError("multiple errors occurred", ec)
	}
}
