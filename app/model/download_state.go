package model

// StateKind 面向调用方的简化任务状态
type StateKind int

const (
	StateNone StateKind = iota
	StateRunning
	StateSuccess
	StatePaused
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	}
	return "none"
}

// MarshalText 以名称形式输出，便于 JSON 展示
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// DownloadState 任务状态查询结果。
// Success 时 Path 有效；Running 和 Paused 时 Current、Total 有效。
type DownloadState struct {
	Kind    StateKind `json:"kind"`
	TaskID  uint      `json:"task_id,omitempty"`
	Current int64     `json:"current,omitempty"`
	Total   int64     `json:"total,omitempty"`
	Path    string    `json:"path,omitempty"`
}

// NoneState 没有匹配任务
func NoneState() DownloadState {
	return DownloadState{Kind: StateNone}
}
