package validator

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"openweb_proxy/proxypool/model"
)

// FailureKind 描述单个代理检查失败的原因。
type FailureKind string

const (
	FailureTimeout  FailureKind = "timeout"
	FailureProxy    FailureKind = "proxy"
	FailureRequest  FailureKind = "request"
	FailureEncoding FailureKind = "encoding"
	FailureStatus   FailureKind = "status"
	FailureBanned   FailureKind = "banned"
)

// CheckError is the verdict of a failed check.
type CheckError struct {
	Kind     FailureKind
	Stage    string // "reachability", "application" or "banned"
	Endpoint model.Endpoint
	Err      error
}

func (e *CheckError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s check failed for %s: %s", e.Stage, e.Endpoint, e.Kind)
	}
	return fmt.Sprintf("%s check failed for %s (%s): %v", e.Stage, e.Endpoint, e.Kind, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or "" when err is not a *CheckError.
func KindOf(err error) FailureKind {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func newCheckError(stage string, e model.Endpoint, err error) *CheckError {
	return &CheckError{Kind: classify(err), Stage: stage, Endpoint: e, Err: err}
}

// classify maps a transport error onto a FailureKind.
func classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var corrupt flate.CorruptInputError
	if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) || errors.As(err, &corrupt) {
		return FailureEncoding
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "proxyconnect" || strings.HasPrefix(opErr.Op, "socks")) {
		return FailureProxy
	}
	return FailureRequest
}
