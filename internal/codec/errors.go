package codec

import "errors"

// Decode failures. All of them are non-fatal: the frame is dropped.
var (
	ErrBadMagic       = errors.New("bad magic")
	ErrCrcMismatch    = errors.New("crc mismatch")
	ErrUnknownCommand = errors.New("unknown command")
	ErrTruncated      = errors.New("truncated frame")
)

// Reason maps a decode error onto a short label usable as a metric label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, ErrCrcMismatch):
		return "crc_mismatch"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	default:
		return "other"
	}
}
