package vsphere

import (
	"fmt"
	"strings"
)

// TransportFaultError wraps a failure at the SDK transport level. It is
// never retried inline, and returning it does not mark the session
// faulted: the session monitor tears a session down only when its
// periodic reload fails with a ServerTooBusy-class error, and reconnects
// once the session is no longer valid.
type TransportFaultError struct {
	Op  string
	Err error
}

func (e *TransportFaultError) Error() string {
	return fmt.Sprintf("transport fault during %s: %v", e.Op, e.Err)
}

func (e *TransportFaultError) Unwrap() error {
	return e.Err
}

// NewTransportFaultError creates a TransportFaultError.
func NewTransportFaultError(op string, err error) *TransportFaultError {
	return &TransportFaultError{Op: op, Err: err}
}

// IsServerTooBusy reports whether err looks like a ServerTooBusy-class
// fault, which the session monitor treats as grounds for teardown.
func IsServerTooBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "server too busy") ||
		strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

// TaskError represents a hypervisor task that terminated in the error
// state. Message is the hypervisor's localized error text when built by
// awaitTask, and the task description joined with that text (see
// taskErrorMessage) when built by the task monitor.
type TaskError struct {
	Task    string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.Task, e.Message)
}

// NewTaskError creates a TaskError.
func NewTaskError(task, message string) *TaskError {
	return &TaskError{Task: task, Message: message}
}

// InvalidArgumentError covers precondition violations the caller could
// have avoided: an unknown Reconfigure feature key, or a Save against a
// disk path that doesn't carry the VM's workspace tag.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// NewInvalidArgumentError creates an InvalidArgumentError.
func NewInvalidArgumentError(reason string) *InvalidArgumentError {
	return &InvalidArgumentError{Reason: reason}
}

// RaceRetryError is raised internally by cache-eviction retries; not
// expected to surface past Delete's single 100ms-backed retry.
type RaceRetryError struct {
	Message string
	Err     error
}

func (e *RaceRetryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RaceRetryError) Unwrap() error {
	return e.Err
}

// NewRaceRetryError creates a RaceRetryError.
func NewRaceRetryError(message string, err error) *RaceRetryError {
	return &RaceRetryError{Message: message, Err: err}
}

// IsAlreadyInDesiredPowerState encapsulates the substring-match idempotence
// detection called out in spec §9 Design Notes, so locale drift in the
// hypervisor's localized error text is handled in exactly one place.
func IsAlreadyInDesiredPowerState(err error, poweredOn bool) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if poweredOn {
		return strings.Contains(msg, "powered on")
	}
	return strings.Contains(msg, "powered off")
}
