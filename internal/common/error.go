package common

import (
	"errors"
	"fmt"
)

type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
	cause   error
}

const (
	SuccessCode = 0
	ServiceErr  = iota + 10000
	RequestInvalid
	ConfigErr
	PrepareErr
	BuildErr
	BuildArtifactNotFound
	HashExtractionErr
	TransferErr
	DeviceUpgradeErr
	NotifyErr
	ChangelogErr
	ArchiveErr
	HistoryErr
	HistoryNotExists
)

var errorMsg = map[int]string{
	SuccessCode:           "success",
	ServiceErr:            "service error",
	RequestInvalid:        "request invalid",
	ConfigErr:             "config invalid",
	PrepareErr:            "prepare failed",
	BuildErr:              "build failed",
	BuildArtifactNotFound: "build artifact not found",
	HashExtractionErr:     "version hash extraction failed",
	TransferErr:           "transfer failed",
	DeviceUpgradeErr:      "device upgrade failed",
	NotifyErr:             "notify failed",
	ChangelogErr:          "changelog check failed",
	ArchiveErr:            "archive failed",
	HistoryErr:            "history unavailable",
	HistoryNotExists:      "history not exists",
}

func (e ErrNo) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("err_code=%d, err_msg=%s: %v", e.ErrCode, e.ErrMsg, e.cause)
	}
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

func (e ErrNo) Unwrap() error {
	return e.cause
}

// Is matches any ErrNo carrying the same code, so callers can test
// errors.Is(err, NewErrNo(TransferErr)) regardless of the cause.
func (e ErrNo) Is(target error) bool {
	t, ok := target.(ErrNo)
	return ok && t.ErrCode == e.ErrCode
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// WrapErrNo attaches cause to the code. A nil cause yields a plain ErrNo.
func WrapErrNo(errCode int, cause error) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
		cause:   cause,
	}
}

// Errorf is WrapErrNo with a formatted cause.
func Errorf(errCode int, format string, args ...any) error {
	return WrapErrNo(errCode, fmt.Errorf(format, args...))
}

func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		if e.cause != nil {
			e.ErrMsg = fmt.Sprintf("%s: %v", e.ErrMsg, e.cause)
		}
		return e
	}
	e = ErrNo{
		ErrCode: ServiceErr,
		ErrMsg:  err.Error(),
	}
	return e
}

// Code returns the ErrNo code found in err's chain, or ServiceErr.
func Code(err error) int {
	if err == nil {
		return SuccessCode
	}
	e := ErrNo{}
	if errors.As(err, &e) {
		return e.ErrCode
	}
	return ServiceErr
}
