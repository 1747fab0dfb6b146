package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Spool failure kinds. A *StorageError matches its kind with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrAccessDenied     = errors.New("access denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrNetwork          = errors.New("network error")
	// ErrUnclassified matches failures no other kind describes.
	ErrUnclassified = errors.New("storage error")
)

// StorageError is a classified spool failure.
type StorageError struct {
	Kind error
	// Op is "init", "append" or "read".
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spool %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("spool %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the classification as well as the wrapped chain.
func (e *StorageError) Is(target error) bool { return e.Kind == target }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// errorClass maps message markers onto a kind. Classes are tried in
// order; the first with a matching marker wins.
type errorClass struct {
	kind    error
	markers []string
}

// S3 error codes are matched verbatim alongside OS messages.
var errorClasses = []errorClass{
	{ErrAccessDenied, []string{"AccessDenied", "Forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "EACCES"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "ENOENT", "NoSuchKey", "NoSuchBucket", "404"}},
	{ErrDiskFull, []string{"no space left", "disk full", "ENOSPC", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"SlowDown", "rate exceeded", "throttl", "TooManyRequests", "429"}},
	{ErrAuth, []string{"NoCredentialProviders", "credentials", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "Unauthorized", "401"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "DNS", "dial tcp"}},
}

// classifyError picks a kind from the error chain first and falls back to
// message markers for errors that only carry text (SDK and HTTP errors).
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout) && timeout.Timeout():
		return ErrTimeout
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, class := range errorClasses {
		for _, marker := range class.markers {
			if strings.Contains(msg, strings.ToLower(marker)) {
				return class.kind
			}
		}
	}
	return ErrUnclassified
}
