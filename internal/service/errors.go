package service

import (
	"errors"
	"fmt"
)

// InferenceError 表示远程推理调用失败：传输或鉴权错误，
// 或响应在结构修复之后仍然不可解析。
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("推理调用失败 (%s): %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// ErrScoreFieldMissing 表示评分响应解析成功但缺少数字得分字段。
// 调用方应按 0 分处理并记录警告，而不是中断整个批改任务。
var ErrScoreFieldMissing = errors.New("评分结果缺少得分字段")

// ConfigError 表示缺少必需的操作员输入。
// 在发起任何远程或页面调用之前返回，不产生副作用。
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("缺少必需配置: %s", e.Field)
}
