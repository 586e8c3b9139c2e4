package code

// ErrorCode is an error rendered to clients as {code, message, result}.
// The rendered code is 3 digit http status + 3 digit service + 4 digit error,
// prefixed by the service name when one is set.
type ErrorCode interface {
	error
	ServiceName() string
	StatusCode() int
	Code() string
	Message() string
	Result() interface{}
	// WithResult 返回携带 result 的副本,原错误码不变
	WithResult(interface{}) ErrorCode
	Is(error) bool
}
