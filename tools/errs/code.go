package errs

// 错误码
const (
	ServerInternalError = 500
	ArgsError           = 1001
	NotJoinedError      = 1002
	ForbiddenError      = 1003
	UnknownEventError   = 1004
	RateLimitedError    = 1005
	TokenInvalidError   = 1501
	RecordNotFoundError = 1601
	UnavailableError    = 1701
)

var (
	ErrInternal       = NewCodeError(ServerInternalError, "internal_error")
	ErrInvalidPayload = NewCodeError(ArgsError, "invalid_payload")
	ErrNotJoined      = NewCodeError(NotJoinedError, "not_joined")
	ErrForbidden      = NewCodeError(ForbiddenError, "forbidden")
	ErrUnknownEvent   = NewCodeError(UnknownEventError, "unknown_event")
	ErrRateLimited    = NewCodeError(RateLimitedError, "rate_limited")
	ErrTokenInvalid   = NewCodeError(TokenInvalidError, "token_invalid")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "not_found")
	ErrUnavailable    = NewCodeError(UnavailableError, "unavailable")
)
