package protocol

import "errors"

var (
	ErrProtocolViolation  = errors.New("protocol: violation")
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrInvalidBool        = errors.New("protocol: invalid bool value")
	ErrInvalidString      = errors.New("protocol: invalid utf-8 string")
	ErrStringTooLarge     = errors.New("protocol: string too large")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// IsViolation reports whether err means the stream can no longer be decoded.
func IsViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}
