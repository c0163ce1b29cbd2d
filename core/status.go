package core

import "errors"

// Status is the execution status code returned by the driver table.
// Negative values are errors; values below StatusSpecific are SPI specific.
type Status int32

const (
	StatusOK          Status = 0  // Operation succeeded
	StatusError       Status = -1 // Unspecified error
	StatusBusy        Status = -2 // Driver is busy
	StatusTimeout     Status = -3 // Timeout occurred
	StatusUnsupported Status = -4 // Operation not supported
	StatusParameter   Status = -5 // Parameter error
	StatusSpecific    Status = -6 // Start of driver specific errors

	StatusMode        = StatusSpecific - 1 // Specified mode not supported
	StatusFrameFormat = StatusSpecific - 2 // Specified frame format not supported
	StatusDataBits    = StatusSpecific - 3 // Specified number of data bits not supported
	StatusBitOrder    = StatusSpecific - 4 // Specified bit order not supported
	StatusSSMode      = StatusSpecific - 5 // Specified slave select mode not supported
)

// Sentinel errors, comparable with errors.Is
var (
	ErrGeneric     error = StatusError
	ErrBusy        error = StatusBusy
	ErrTimeout     error = StatusTimeout
	ErrUnsupported error = StatusUnsupported
	ErrParameter   error = StatusParameter
	ErrMode        error = StatusMode
	ErrFrameFormat error = StatusFrameFormat
	ErrDataBits    error = StatusDataBits
	ErrBitOrder    error = StatusBitOrder
	ErrSSMode      error = StatusSSMode
)

func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "spim: ok"
	case StatusError:
		return "spim: error"
	case StatusBusy:
		return "spim: busy"
	case StatusTimeout:
		return "spim: timeout"
	case StatusUnsupported:
		return "spim: unsupported"
	case StatusParameter:
		return "spim: parameter error"
	case StatusMode:
		return "spim: mode not supported"
	case StatusFrameFormat:
		return "spim: frame format not supported"
	case StatusDataBits:
		return "spim: data bits not supported"
	case StatusBitOrder:
		return "spim: bit order not supported"
	case StatusSSMode:
		return "spim: slave select mode not supported"
	}
	return "spim: status " + itoa(int(s))
}

// StatusOf maps an error returned by the driver back to its status code.
// A nil error is StatusOK; errors that carry no Status are StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusError
}
