package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供源站/路径/缓存判定字段，供代理请求日志复用。
// 字段只记录源站名称，不写入源站 Host。
func RequestFields(origin, method, path, upstreamPath string, bypassCache bool) logrus.Fields {
	return logrus.Fields{
		"origin":        origin,
		"method":        method,
		"path":          path,
		"upstream_path": upstreamPath,
		"bypass_cache":  bypassCache,
	}
}
