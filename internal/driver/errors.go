package driver

import "fmt"

// DriverError 携带出错的页面操作名与底层页面状态描述，便于定位门户改版。
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("页面操作失败 (%s): %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}
