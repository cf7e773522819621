package bridge

import "errors"

var (
	// ErrNotConnected is returned when a command is sent while the
	// control connection is down.
	ErrNotConnected = errors.New("browser connection is not open")

	// ErrConnectionClosed is returned to pending requests when the
	// connection is terminally closed (explicit disconnect or reconnect
	// attempts exhausted).
	ErrConnectionClosed = errors.New("browser connection closed")

	// ErrRequestTimeout is returned when a command exceeds its deadline.
	ErrRequestTimeout = errors.New("browser request timed out")

	// ErrConnectTimeout is returned when opening the transport exceeds
	// the configured connect timeout.
	ErrConnectTimeout = errors.New("browser connect timed out")
)

// CommandError carries an error payload returned by the browser side
// for a specific command.
type CommandError struct {
	Action  string
	Message string
}

func (e *CommandError) Error() string {
	return "browser command " + e.Action + " failed: " + e.Message
}
