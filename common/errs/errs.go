package errs

import (
	"errors"
	"fmt"
)

/**
error kinds. Every failure that leaves a pipeline stage is wrapped in an *Error carrying one of these,
so callers can test with errors.Is(err, errs.ErrPublish) and so on
*/
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSerialization = errors.New("serialization error")
	ErrTransfer      = errors.New("transfer error")
	ErrPublish       = errors.New("publish error")
	ErrNotFound      = errors.New("not found")
	ErrCluster       = errors.New("cluster error")
	ErrJobFailed     = errors.New("job failed")
)

type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error { return newError(ErrConfiguration, op, err) }
func Serialization(op string, err error) error { return newError(ErrSerialization, op, err) }
func Transfer(op string, err error) error      { return newError(ErrTransfer, op, err) }
func Publish(op string, err error) error       { return newError(ErrPublish, op, err) }
func NotFound(op string, err error) error      { return newError(ErrNotFound, op, err) }
func Cluster(op string, err error) error       { return newError(ErrCluster, op, err) }
func JobFailed(op string, err error) error     { return newError(ErrJobFailed, op, err) }

// RemoteError is returned when the function ran on the cluster but reported an error (or panicked).
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote function %s failed: %s", e.Function, e.Message)
}
