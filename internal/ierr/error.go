package ierr

type ErrorCode string

const (
	ErrorCodeUnauthenticated    ErrorCode = "Unauthenticated"
	ErrorCodeInvalidFrame       ErrorCode = "InvalidFrame"
	ErrorCodePersistenceFailure ErrorCode = "PersistenceFailure"
	ErrorCodeSendFailure        ErrorCode = "SendFailure"
	ErrorCodeFailedPrecondition ErrorCode = "FailedPrecondition"
	ErrorCodeNotFound           ErrorCode = "NotFound"
	ErrorCodeInternal           ErrorCode = "Internal"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

func New(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: cause.Error(),
		cause:   cause,
	}
}

func (e Error) Error() string {
	return string(e.Code) + ": " + e.cause.Error()
}

func (e Error) Unwrap() error {
	return e.cause
}
