package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"autocdn/internal/core"
	"autocdn/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverVersion = "1.0.0"

// RunController is the part of core.Controller exposed as tools.
type RunController interface {
	Start(name string, mode core.Mode) (string, bool)
	Stop() bool
	Snapshot() core.RunState
}

// RunHistory reads recorded runs and logs.
type RunHistory interface {
	ListRuns(ctx context.Context, configName string, limit, offset int) ([]*core.RunRecord, error)
	ReadRunLog(runID string) (string, error)
}

// ConfigImporter stores YAML documents verbatim.
type ConfigImporter interface {
	ImportConfig(ctx context.Context, name string, doc []byte, replace bool) error
}

// MCPServer exposes config and run management as MCP tools.
type MCPServer struct {
	configs    *core.Configs
	controller RunController
	runs       RunHistory
	importer   ConfigImporter
	logger     *slog.Logger
	mcp        *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(configs *core.Configs, controller RunController, runs RunHistory, importer ConfigImporter, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		configs:    configs,
		controller: controller,
		runs:       runs,
		importer:   importer,
		logger:     logger,
		mcp: server.NewMCPServer(
			"autocdn",
			serverVersion,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.mcp)
}

// HTTPHandler returns a streamable HTTP endpoint serving the same tools.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func (s *MCPServer) registerTools() {
	tools := []server.ServerTool{
		{Tool: mcp.NewTool("cdn_list_configs",
			mcp.WithDescription("列出所有测速配置"),
		), Handler: s.handleListConfigs},
		{Tool: mcp.NewTool("cdn_get_config",
			mcp.WithDescription("查看配置内容（YAML，已填充默认值）"),
			mcp.WithString("name", mcp.Required(), mcp.Description("配置名称，例如 prod.yaml")),
		), Handler: s.handleGetConfig},
		{Tool: mcp.NewTool("cdn_create_config",
			mcp.WithDescription("使用默认参数创建配置，缺少扩展名时自动追加 .yaml"),
			mcp.WithString("name", mcp.Required(), mcp.Description("配置名称")),
		), Handler: s.handleCreateConfig},
		{Tool: mcp.NewTool("cdn_import_config",
			mcp.WithDescription("导入 YAML 配置，保留原值"),
			mcp.WithString("name", mcp.Required(), mcp.Description("配置名称")),
			mcp.WithString("yaml", mcp.Required(), mcp.Description("YAML 文档")),
			mcp.WithBoolean("replace", mcp.Description("同名配置存在时是否覆盖，默认否")),
		), Handler: s.handleImportConfig},
		{Tool: mcp.NewTool("cdn_delete_config",
			mcp.WithDescription("删除配置"),
			mcp.WithString("name", mcp.Required(), mcp.Description("配置名称")),
		), Handler: s.handleDeleteConfig},
		{Tool: mcp.NewTool("cdn_start_run",
			mcp.WithDescription("开始测速。auto 模式测速后更新 DNS，manual 模式只测速"),
			mcp.WithString("config", mcp.Required(), mcp.Description("配置名称")),
			mcp.WithString("mode", mcp.Description("运行模式，默认 manual"), mcp.Enum("auto", "manual")),
		), Handler: s.handleStartRun},
		{Tool: mcp.NewTool("cdn_stop_run",
			mcp.WithDescription("请求停止当前测速"),
		), Handler: s.handleStopRun},
		{Tool: mcp.NewTool("cdn_run_status",
			mcp.WithDescription("查看当前测速状态、进度和日志"),
			mcp.WithNumber("tail", mcp.Description("返回最后 N 行日志，默认 20"), mcp.Min(0), mcp.Max(float64(core.LogCapacity))),
		), Handler: s.handleRunStatus},
		{Tool: mcp.NewTool("cdn_list_runs",
			mcp.WithDescription("查看测速历史"),
			mcp.WithString("config", mcp.Description("按配置过滤（可选）")),
			mcp.WithNumber("limit", mcp.Description("返回的记录数量，默认 20"), mcp.Min(1), mcp.Max(100)),
		), Handler: s.handleListRuns},
		{Tool: mcp.NewTool("cdn_get_run_log",
			mcp.WithDescription("获取某次测速的完整日志"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("运行记录 ID")),
			mcp.WithNumber("tail", mcp.Description("返回最后 N 行日志，默认全部"), mcp.Min(0)),
		), Handler: s.handleGetRunLog},
	}
	s.mcp.AddTools(tools...)
	s.logger.Info("MCP tools registered", "count", len(tools))
}

func (s *MCPServer) handleListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.configs.List(ctx)
	if err != nil {
		s.logger.Error("list configs", "err", err)
		return mcp.NewToolResultError(core.Describe("list configs", err)), nil
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("没有找到配置"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("找到 %d 个配置:\n%s", len(names), strings.Join(names, "\n"))), nil
}

func (s *MCPServer) handleGetConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	rec, err := s.configs.Load(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(core.Describe("load config", err)), nil
	}
	data, err := store.EncodeRecord(rec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("编码配置失败: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *MCPServer) handleCreateConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := core.NormalizeName(mcp.ParseString(request, "name", ""))
	if err := s.configs.Create(ctx, name); err != nil {
		return mcp.NewToolResultError(core.Describe("create config", err)), nil
	}
	s.logger.Info("config created", "config", name)
	return mcp.NewToolResultText(fmt.Sprintf("配置已创建: %s", name)), nil
}

func (s *MCPServer) handleImportConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := core.NormalizeName(mcp.ParseString(request, "name", ""))
	doc := mcp.ParseString(request, "yaml", "")
	replace := mcp.ParseBoolean(request, "replace", false)
	if name == "" {
		return mcp.NewToolResultError(core.Describe("import config", core.ErrInvalidName)), nil
	}
	rec, err := store.DecodeRecord([]byte(doc))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("YAML 解析失败: %v", err)), nil
	}
	if err := rec.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.importer.ImportConfig(ctx, name, []byte(doc), replace); err != nil {
		return mcp.NewToolResultError(core.Describe("import config", err)), nil
	}
	s.logger.Info("config imported", "config", name, "replace", replace)
	return mcp.NewToolResultText(fmt.Sprintf("配置已导入: %s", name)), nil
}

func (s *MCPServer) handleDeleteConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if err := s.configs.Delete(ctx, name); err != nil {
		return mcp.NewToolResultError(core.Describe("delete config", err)), nil
	}
	s.logger.Info("config deleted", "config", name)
	return mcp.NewToolResultText(fmt.Sprintf("配置已删除: %s", name)), nil
}

func (s *MCPServer) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(mcp.ParseString(request, "config", ""))
	mode := core.Mode(strings.ToLower(mcp.ParseString(request, "mode", string(core.ModeManual))))
	if !mode.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("无效的运行模式: %s", mode)), nil
	}
	if _, err := s.configs.Load(ctx, name); err != nil {
		return mcp.NewToolResultError(core.Describe("start run", err)), nil
	}
	runID, ok := s.controller.Start(name, mode)
	if !ok {
		return mcp.NewToolResultError("已有测速正在进行"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("测速已开始\nID: %s\n配置: %s\n模式: %s", runID, name, mode)), nil
}

func (s *MCPServer) handleStopRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.controller.Stop() {
		return mcp.NewToolResultText("没有可停止的测速"), nil
	}
	return mcp.NewToolResultText("已请求停止测速"), nil
}

func (s *MCPServer) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tail := int(mcp.ParseFloat64(request, "tail", 20))
	st := s.controller.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "阶段: %s\n", st.Phase)
	fmt.Fprintf(&b, "运行中: %t\n", st.Running)
	fmt.Fprintf(&b, "状态: %s\n", st.StatusText)
	fmt.Fprintf(&b, "进度: %.0f%%\n", st.ProgressPercent)
	if st.RunID != "" {
		fmt.Fprintf(&b, "ID: %s\n配置: %s\n模式: %s\n", st.RunID, st.ConfigName, st.Mode)
		fmt.Fprintf(&b, "开始: %s\n", formatTime(st.StartedAt))
		if st.EndedAt != nil {
			fmt.Fprintf(&b, "结束: %s\n", formatTime(st.EndedAt))
		}
	}
	if st.Err != nil {
		fmt.Fprintf(&b, "错误: %v\n", st.Err)
	}
	lines := st.LogLines
	if tail >= 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	if len(lines) > 0 {
		b.WriteString("\n日志:\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	config := strings.TrimSpace(mcp.ParseString(request, "config", ""))
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.runs.ListRuns(ctx, config, limit, 0)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("获取测速历史失败: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("没有测速记录"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条记录:\n\n", len(runs))
	for _, run := range runs {
		fmt.Fprintf(&b, "%s %s\n", statusToIcon(run.Status), run.ID)
		fmt.Fprintf(&b, "  配置: %s (%s)\n", run.ConfigName, run.Mode)
		fmt.Fprintf(&b, "  开始: %s\n", formatTime(&run.StartedAt))
		if run.EndedAt != nil {
			fmt.Fprintf(&b, "  结束: %s\n", formatTime(run.EndedAt))
		}
		if run.Error != nil {
			fmt.Fprintf(&b, "  错误: %s\n", truncateString(*run.Error, 80))
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetRunLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := mcp.ParseString(request, "run_id", "")
	content, err := s.runs.ReadRunLog(runID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mcp.NewToolResultError(fmt.Sprintf("日志不存在: %s", runID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("读取日志失败: %v", err)), nil
	}
	if tail := int(mcp.ParseFloat64(request, "tail", 0)); tail > 0 {
		content = store.TailLines(content, tail)
	}
	return mcp.NewToolResultText(content), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func statusToIcon(status core.RunStatus) string {
	switch status {
	case core.RunStatusSucceeded:
		return "✅"
	case core.RunStatusFailed:
		return "❌"
	case core.RunStatusCanceled:
		return "🚫"
	case core.RunStatusRunning:
		return "▶️"
	case core.RunStatusQueued:
		return "⏳"
	default:
		return "❓"
	}
}
