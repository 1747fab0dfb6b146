// Package iox holds the small I/O helpers shared across zotel.
package iox

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by ReadAllLimit when the input exceeds the limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// DiscardClose closes c and drops the error, for defers where a failed
// close cannot be acted on.
func DiscardClose(c io.Closer) { _ = c.Close() }

// ReadAllLimit reads r to EOF, failing with ErrTooLarge after limit bytes.
// A non-positive limit reads without bound.
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > limit:
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
