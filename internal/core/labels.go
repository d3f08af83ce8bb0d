package core

import "strings"

// Labels are the user-facing tags and status strings of the run projection.
type Labels struct {
	LogTag    string
	StatusTag string
	ErrorTag  string
	FatalTag  string

	Ready        string
	Initializing string
	Testing      string
	Finished     string
}

var LabelsEN = Labels{
	LogTag:       "[log] ",
	StatusTag:    "[status] ",
	ErrorTag:     "[error] ",
	FatalTag:     "[fatal] ",
	Ready:        "ready",
	Initializing: "initializing...",
	Testing:      "testing...",
	Finished:     "finished / stopped",
}

var LabelsZH = Labels{
	LogTag:       "[日志] ",
	StatusTag:    "[状态] ",
	ErrorTag:     "[错误] ",
	FatalTag:     "[致命错误] ",
	Ready:        "就绪",
	Initializing: "正在初始化...",
	Testing:      "测速中...",
	Finished:     "已完成 / 已停止",
}

// LabelsFor picks a label set by locale tag; unknown locales get English.
func LabelsFor(locale string) Labels {
	switch strings.ToLower(locale) {
	case "zh", "zh-cn", "zh_cn", "zh-hans":
		return LabelsZH
	default:
		return LabelsEN
	}
}
