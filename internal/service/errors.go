package service

import "fmt"

// DispatchError 出站发送被上游拒绝。带回上游状态码和响应体，由 API 层
// 原样透出给调用方；本层不做重试（两个上游的重复发送语义不同，
// 重试策略归调用方）
type DispatchError struct {
	Provider string
	Status   int
	Body     string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dispatch rejected: status=%d body=%s", e.Provider, e.Status, e.Body)
}
