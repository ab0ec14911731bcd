package protocol

import "strconv"

// Status is a negative result code carried in responses
type Status int32

const (
	StatusOK           Status = 0
	StatusNotFound     Status = -1
	StatusAccessDenied Status = -2
	StatusInvalidParam Status = -3
	StatusReadOnly     Status = -4
	StatusClosed       Status = -5
	StatusUnavailable  Status = -6
	StatusDuplicate    Status = -7
	StatusInternal     Status = -8
)

var statusText = map[Status]string{
	StatusOK:           "ok",
	StatusNotFound:     "not found",
	StatusAccessDenied: "access denied",
	StatusInvalidParam: "invalid parameter",
	StatusReadOnly:     "read only",
	StatusClosed:       "closed",
	StatusUnavailable:  "unavailable",
	StatusDuplicate:    "duplicate",
	StatusInternal:     "internal error",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return "status " + strconv.Itoa(int(s))
}
