package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "read tcp: i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestClassifyError_Messages(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"operation error S3: PutObject, https response error StatusCode: 403, Forbidden", ErrAccessDenied},
		{"mkdir /spool/day=2026-01-01: permission denied", ErrPermissionDenied},
		{"open /tmp/file: EACCES", ErrPermissionDenied},
		{"NoSuchKey: The specified key does not exist", ErrNotFound},
		{"NoSuchBucket: bucket zotel-events", ErrNotFound},
		{"received status 404", ErrNotFound},
		{"write /spool/x.jsonl: no space left on device", ErrDiskFull},
		{"quota exceeded for user", ErrDiskFull},
		{"connection timeout after 30s", ErrTimeout},
		{"SlowDown: please reduce request rate", ErrThrottled},
		{"received status 429", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"ExpiredToken: the security token has expired", ErrAuth},
		{"received status 401", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"DNS lookup failed for bucket.s3.amazonaws.com", ErrNetwork},
		{"something completely unexpected happened", ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyError_Chain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("snapshots: %w", context.DeadlineExceeded), ErrTimeout},
		{"net timeout", timeoutErr{}, ErrTimeout},
		{"not exist", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, ErrNotFound},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, ErrPermissionDenied},
		{"enospc", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrDiskFull},
		{"econnrefused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, ErrNetwork},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if wrap("append", "zotel-events", nil) != nil {
		t.Error("wrap(nil) should be nil")
	}

	cause := &fs.PathError{Op: "mkdir", Path: "/spool", Err: fs.ErrPermission}
	err := wrap("append", "zotel-events", cause)

	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("the cause should stay reachable through Unwrap")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("should not match another kind")
	}

	var se *StorageError
	if !errors.As(err, &se) || se.Op != "append" || se.Path != "zotel-events" {
		t.Fatalf("StorageError = %+v", se)
	}
	if !strings.HasPrefix(err.Error(), "spool append zotel-events: permission denied: ") {
		t.Errorf("message = %q", err.Error())
	}
	if got := (&StorageError{Kind: ErrTimeout, Op: "read", Err: cause}).Error(); !strings.HasPrefix(got, "spool read: operation timed out") {
		t.Errorf("message without path = %q", got)
	}
}
