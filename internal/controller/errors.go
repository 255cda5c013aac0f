package controller

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeMonitorStopped   = "MONITOR_STOPPED"
	CodeStoreFailure     = "STORE_FAILURE"
)

// CodedError carries a stable code the API maps to an HTTP status.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }
