package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// indexedField 拼接数组元素字段路径，输出 Rules.Redirect[2].Path 形式。
func indexedField(section string, idx int, field string) string {
	if field == "" {
		return fmt.Sprintf("%s[%d]", section, idx)
	}
	return fmt.Sprintf("%s[%d].%s", section, idx, field)
}
