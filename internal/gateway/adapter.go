package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/tool"
	"github.com/toolgate/toolgate/internal/transport"
)

// JSON-RPC methods the adapter answers.
const (
	methodPing      = "ping"
	methodToolsList = "tools/list"
	methodToolsGet  = "tools/get"
	methodToolsCall = "tools/call"
)

// Adapter bridges the streaming transport and the tool registry. It is the
// transport's MessageHandler: each inbound request is translated into a
// registry operation and the outcome is pushed back through the transport
// as a correlated response.
type Adapter struct {
	registry  *tool.Registry
	transport *transport.Transport
	metrics   *Metrics
	logger    *slog.Logger
}

// NewAdapter builds an adapter around the given registry and transport.
func NewAdapter(registry *tool.Registry, tr *transport.Transport, metrics *Metrics, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Adapter{registry: registry, transport: tr, metrics: metrics, logger: logger}
}

// listParams carries the optional agent filter for tools/list.
type listParams struct {
	AgentID string `json:"agentId"`
}

// getParams names the tool for tools/get.
type getParams struct {
	Name string `json:"name"`
}

// callParams is the tools/call parameter object.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Context   callerContext  `json:"context"`
}

// callerContext identifies who is invoking the tool.
type callerContext struct {
	AgentID        string            `json:"agentId"`
	UserID         string            `json:"userId"`
	OrganizationID string            `json:"organizationId"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Handle implements transport.MessageHandler. Responses sent by a client
// and notifications are acknowledged without a reply; requests are routed
// by method.
func (a *Adapter) Handle(ctx context.Context, msg transport.Message, sessionID string) error {
	if msg.IsResponse() {
		a.logger.Debug("client response received", "session", sessionID)
		return nil
	}
	if msg.IsNotification() {
		a.metrics.RecordNotification()
		a.logger.Debug("notification received", "method", msg.Method, "session", sessionID)
		return nil
	}

	switch msg.Method {
	case methodPing:
		return a.reply(msg.ID, "pong")
	case methodToolsList:
		return a.handleList(msg)
	case methodToolsGet:
		return a.handleGet(msg)
	case methodToolsCall:
		return a.handleCall(ctx, msg, sessionID)
	default:
		return a.replyError(msg.ID, tool.CodeToolNotFound, "method not found: "+msg.Method, nil)
	}
}

func (a *Adapter) handleList(msg transport.Message) error {
	var params listParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return a.replyError(msg.ID, tool.CodeInvalidParams, "invalid params: "+err.Error(), nil)
		}
	}

	var tools []tool.Tool
	if params.AgentID != "" {
		tools = a.registry.ForAgent(params.AgentID)
	} else {
		tools = a.registry.All()
	}
	return a.reply(msg.ID, map[string]any{"tools": tools})
}

func (a *Adapter) handleGet(msg transport.Message) error {
	var params getParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return a.replyError(msg.ID, tool.CodeInvalidParams, "invalid params: "+err.Error(), nil)
		}
	}
	if params.Name == "" {
		return a.replyError(msg.ID, tool.CodeInvalidParams, "invalid params: missing tool name", nil)
	}

	t, err := a.registry.Get(params.Name)
	if err != nil {
		if te := tool.AsToolError(err); te != nil {
			return a.replyError(msg.ID, te.Code, te.Message, te.Details)
		}
		return a.replyError(msg.ID, tool.CodeToolNotFound, err.Error(), nil)
	}
	return a.reply(msg.ID, t)
}

func (a *Adapter) handleCall(ctx context.Context, msg transport.Message, sessionID string) error {
	var params callParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return a.replyError(msg.ID, tool.CodeInvalidParams, "invalid params: "+err.Error(), nil)
		}
	}
	if params.Name == "" {
		return a.replyError(msg.ID, tool.CodeInvalidParams, "invalid params: missing tool name", nil)
	}

	cc := tool.CallContext{
		AgentID:        params.Context.AgentID,
		UserID:         params.Context.UserID,
		OrganizationID: params.Context.OrganizationID,
		SessionID:      sessionID,
		Metadata:       params.Context.Metadata,
	}
	if msg.ID != nil {
		cc.RequestID = string(*msg.ID)
	}

	start := time.Now()
	result, err := a.registry.Call(ctx, params.Name, params.Arguments, cc)
	a.metrics.RecordCall(time.Since(start))
	if err != nil {
		te := tool.AsToolError(err)
		if te == nil {
			te = tool.ErrExecution(params.Name, err)
		}
		if te.Code == tool.CodeApprovalPending {
			a.metrics.RecordApprovalGated()
		} else {
			a.metrics.RecordError()
		}
		return a.replyError(msg.ID, te.Code, te.Message, te.Details)
	}
	return a.reply(msg.ID, result)
}

func (a *Adapter) reply(id *json.RawMessage, result any) error {
	resp, err := transport.NewResponse(id, result)
	if err != nil {
		a.logger.Error("marshal response failed", "error", err)
		resp = transport.NewError(id, tool.CodeExecutionError, "internal error: unserializable result", nil)
	}
	return a.transport.Send(resp)
}

func (a *Adapter) replyError(id *json.RawMessage, code int, message string, data any) error {
	return a.transport.Send(transport.NewError(id, code, message, data))
}
