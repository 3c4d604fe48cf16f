package monitoring

import (
	"errors"
	"fmt"
)

// ScanErrorKind classifies why a scan produced no report
type ScanErrorKind string

const (
	// AllProvidersUnavailable means every dispatched platform call failed
	AllProvidersUnavailable ScanErrorKind = "all_providers_unavailable"
	// ScanCanceled means the caller went away before the scan finished
	ScanCanceled ScanErrorKind = "canceled"
)

// ScanError is returned by RunScan when no report can be produced
type ScanError struct {
	Kind  ScanErrorKind
	Calls int
	Err   error
}

func (e *ScanError) Error() string {
	switch e.Kind {
	case AllProvidersUnavailable:
		return fmt.Sprintf("scan failed: all %d platform calls failed", e.Calls)
	case ScanCanceled:
		return fmt.Sprintf("scan canceled: %v", e.Err)
	}
	return fmt.Sprintf("scan failed: %s", e.Kind)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsScanError reports whether err is a ScanError of the given kind
func IsScanError(err error, kind ScanErrorKind) bool {
	var se *ScanError
	return errors.As(err, &se) && se.Kind == kind
}
