package model

import "strconv"

// StatusCode 任务状态码，沿用 HTTP 状态码的分段含义
type StatusCode int

const (
	StatusPending       StatusCode = 190 // 等待开始
	StatusPendingPaused StatusCode = 191 // 开始前被暂停
	StatusRunning       StatusCode = 192 // 传输中
	StatusRunningPaused StatusCode = 193 // 传输中被暂停

	StatusSuccess StatusCode = 200 // 下载完成

	StatusBadRequest         StatusCode = 400 // 请求参数错误
	StatusNotAcceptable      StatusCode = 406 // 无法处理的内容类型
	StatusLengthRequired     StatusCode = 411 // 无法确定长度且不可续传
	StatusPreconditionFailed StatusCode = 412 // 续传前置条件不满足

	StatusCanceled          StatusCode = 490 // 已取消
	StatusUnknownError      StatusCode = 491 // 未知错误
	StatusFileError         StatusCode = 492 // 文件或存储错误
	StatusUnhandledRedirect StatusCode = 493 // 无法处理的重定向
	StatusUnhandledHTTPCode StatusCode = 494 // 无法处理的 HTTP 状态码
	StatusHTTPDataError     StatusCode = 495 // 接收数据出错
	StatusHTTPException     StatusCode = 496 // 网络异常
	StatusTooManyRedirects  StatusCode = 497 // 重定向次数过多
)

// StatusClass 状态码分类
type StatusClass int

const (
	ClassReserved StatusClass = iota
	ClassInformational
	ClassSuccess
	ClassRedirect
	ClassError
)

func (c StatusClass) String() string {
	switch c {
	case ClassInformational:
		return "informational"
	case ClassSuccess:
		return "success"
	case ClassRedirect:
		return "redirect"
	case ClassError:
		return "error"
	default:
		return "reserved"
	}
}

// IsInformational 100-199，任务尚未结束
func (s StatusCode) IsInformational() bool {
	return s >= 100 && s < 200
}

func (s StatusCode) IsSuccess() bool {
	return s >= 200 && s < 300
}

func (s StatusCode) IsRedirect() bool {
	return s >= 300 && s < 400
}

// IsError 400-599
func (s StatusCode) IsError() bool {
	return s >= 400 && s < 600
}

func (s StatusCode) IsClientError() bool {
	return s >= 400 && s < 500
}

func (s StatusCode) IsServerError() bool {
	return s >= 500 && s < 600
}

// IsCompleted 成功或失败都视为已结束
func (s StatusCode) IsCompleted() bool {
	return s.IsSuccess() || s.IsError()
}

// IsSuspended 处于两个暂停态之一
func (s StatusCode) IsSuspended() bool {
	return s == StatusPendingPaused || s == StatusRunningPaused
}

// Class 返回状态码所属分类，未定义区间归为 ClassReserved
func (s StatusCode) Class() StatusClass {
	switch {
	case s.IsInformational():
		return ClassInformational
	case s.IsSuccess():
		return ClassSuccess
	case s.IsRedirect():
		return ClassRedirect
	case s.IsError():
		return ClassError
	default:
		return ClassReserved
	}
}

var statusNames = map[StatusCode]string{
	StatusPending:            "pending",
	StatusPendingPaused:      "pending_paused",
	StatusRunning:            "running",
	StatusRunningPaused:      "running_paused",
	StatusSuccess:            "success",
	StatusBadRequest:         "bad_request",
	StatusNotAcceptable:      "not_acceptable",
	StatusLengthRequired:     "length_required",
	StatusPreconditionFailed: "precondition_failed",
	StatusCanceled:           "canceled",
	StatusUnknownError:       "unknown_error",
	StatusFileError:          "file_error",
	StatusUnhandledRedirect:  "unhandled_redirect",
	StatusUnhandledHTTPCode:  "unhandled_http_code",
	StatusHTTPDataError:      "http_data_error",
	StatusHTTPException:      "http_exception",
	StatusTooManyRedirects:   "too_many_redirects",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}
