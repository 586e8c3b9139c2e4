package code

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"jobscheduler/pkg/json"
)

// 解析失败时使用的错误码
const fallbackCode = "0000001"

// Froze defines ErrorCode from "[service.]" + 3 digit http status + 7 digit code.
// An unparsable code yields a 500 whose result carries the raw input.
func Froze(code, message string) ErrorCode {
	return froze(code, message, nil)
}

// Format renders e the way clients see it, e.g. "5030010101" or "svc.4000000001".
func Format(e ErrorCode) string {
	if e.ServiceName() == "" {
		return fmt.Sprintf("%3d%s", e.StatusCode(), e.Code())
	}
	return fmt.Sprintf("%s.%3d%s", e.ServiceName(), e.StatusCode(), e.Code())
}

type errCode struct {
	serviceName    string
	httpStatusCode int
	// 3(service)+4(error)
	code    string
	message string
	result  interface{}
}

func froze(code, message string, result interface{}) *errCode {
	e := &errCode{
		httpStatusCode: http.StatusInternalServerError,
		code:           fallbackCode,
		message:        message,
		result:         code + ";" + message,
	}
	raw := strings.ReplaceAll(code, "-", "")
	if index := strings.Index(raw, "."); index > 0 {
		e.serviceName = raw[:index]
		raw = raw[index+1:]
	}
	if len(raw) <= 3 {
		return e
	}
	status, err := strconv.Atoi(raw[:3])
	if err != nil || status < 100 || status > 599 {
		return e
	}
	e.httpStatusCode = status
	e.code = raw[3:]
	e.result = result
	return e
}

func (e *errCode) Error() string {
	if e.result == nil {
		return fmt.Sprintf("%s %s", Format(e), e.message)
	}
	return fmt.Sprintf("%s %s: %v", Format(e), e.message, e.result)
}

func (e *errCode) ServiceName() string {
	return e.serviceName
}

func (e *errCode) StatusCode() int {
	return e.httpStatusCode
}

func (e *errCode) Code() string {
	return e.code
}

func (e *errCode) Message() string {
	return e.message
}

func (e *errCode) Result() interface{} {
	return e.result
}

func (e *errCode) WithResult(result interface{}) ErrorCode {
	ec := *e
	ec.result = result
	return &ec
}

// Is 只比较错误码
func (e *errCode) Is(v error) bool {
	err, ok := v.(ErrorCode)
	if !ok {
		return false
	}
	return err.Code() == e.Code()
}

type content struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

func (e *errCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(content{
		Code:    Format(e),
		Message: e.message,
		Result:  e.result,
	})
}

func (e *errCode) UnmarshalJSON(bytes []byte) error {
	var c content
	if err := json.Unmarshal(bytes, &c); err != nil {
		return err
	}
	*e = *froze(c.Code, c.Message, c.Result)
	return nil
}
