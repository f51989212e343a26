package agent

// MCP method and notification constants.
const (
	methodInitialize = "initialize"

	notificationToolsListChanged     = "notifications/tools/list_changed"
	notificationResourcesListChanged = "notifications/resources/list_changed"
	notificationPromptsListChanged   = "notifications/prompts/list_changed"
)

// Server transports accepted by MCPServer.Start.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Tool names exposed by MCPServer.
const (
	toolAuthStatus        = "auth_status"
	toolAuthQuickStart    = "auth_quick_start"
	toolAuthQuickComplete = "auth_quick_complete"
	toolAuthGuidedStart   = "auth_guided_start"
	toolAuthGuidedNext    = "auth_guided_next"
	toolAuthGuidedRun     = "auth_guided_run"
	toolAuthGuidedSetCode = "auth_guided_set_code"
	toolAuthClear         = "auth_clear"
)

const serverName = "mcp-inspect"
