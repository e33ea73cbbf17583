package sdh

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates a payload which can't be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidIndex indicates a descriptor index beyond count.
	ErrInvalidIndex = errors.New("invalid binary index")
	// ErrCorrupted indicates an inconsistent catalog.
	ErrCorrupted = errors.New("catalog corrupted")
	// ErrBusy indicates the daemon request slot is taken.
	ErrBusy = errors.New("update store busy")
	// ErrNoFeedback indicates the daemon didn't reply within the feedback timeout.
	ErrNoFeedback = errors.New("no feedback from update store")
)

// Result is the coded result of a request.
type Result byte

// Result codes.
const (
	ResultFailed Result = iota
	ResultOK
	ResultDescSizeErr
	ResultFileSizeErr
	ResultBusy
	ResultInvalidIndex
	ResultCRCErr
	ResultInvalidRequest
	// ResultImageCRCErr rejects a completed download whose stored bytes fail
	// the image CRC. The session is gone, the image must be downloaded again.
	ResultImageCRCErr
)

var resultNames = map[Result]string{
	ResultFailed:         "FAILED",
	ResultOK:             "OK",
	ResultDescSizeErr:    "DESC_SIZE_ERR",
	ResultFileSizeErr:    "FILE_SIZE_ERR",
	ResultBusy:           "BUSY",
	ResultInvalidIndex:   "INVALID_INDEX",
	ResultCRCErr:         "CRC_ERR",
	ResultInvalidRequest: "INVALID_REQUEST",
	ResultImageCRCErr:    "IMAGE_CRC_ERR",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RESULT(%d)", byte(r))
}

// ResultError is returned by Client when a request is answered with a
// result other than OK.
type ResultError struct {
	MessageID uint32
	Result    Result
}

// Error implements error.
func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: %s", messageName(e.MessageID), e.Result)
}
