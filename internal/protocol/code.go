package protocol

// Code is the status code carried in every device frame.
type Code int

// Status codes reported by SSCMA firmware.
const (
	CodeOK        Code = 0
	CodeAgain     Code = 1
	CodeELog      Code = 2
	CodeETimedOut Code = 3
	CodeEIO       Code = 4
	CodeEInval    Code = 5
	CodeENoMem    Code = 6
	CodeEBusy     Code = 7
	CodeENotSup   Code = 8
	CodeEPerm     Code = 9
	CodeEUnknown  Code = 10
)

var codeText = map[Code]string{
	CodeOK:        "ok",
	CodeAgain:     "try again",
	CodeELog:      "logic error",
	CodeETimedOut: "timed out",
	CodeEIO:       "input/output error",
	CodeEInval:    "invalid argument",
	CodeENoMem:    "out of memory",
	CodeEBusy:     "device busy",
	CodeENotSup:   "not supported",
	CodeEPerm:     "operation not permitted",
	CodeEUnknown:  "unknown error",
}

// String returns the textual meaning of the code.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return "unrecognised status"
}

// OK reports whether the code signals success.
func (c Code) OK() bool {
	return c == CodeOK
}

// Err returns nil for CodeOK and a *DeviceError otherwise.
func (c Code) Err(command string) error {
	if c == CodeOK {
		return nil
	}
	return &DeviceError{Command: command, Code: c}
}
