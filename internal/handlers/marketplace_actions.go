package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"emcp-client/internal/metrics"
	"emcp-client/internal/models"
	"emcp-client/internal/services"
	"emcp-client/internal/ui"

	"github.com/sirupsen/logrus"
)

// Click actions
const (
	ActionUseTool    = "use-tool"
	ActionCopyConfig = "copy-config"
	ActionListTools  = "list-tools"
	ActionLogout     = "logout"
	ActionWhoAmI     = "whoami"
)

// Forms
const (
	FormSearch  = "search"
	FormLogin   = "login"
	FormPublish = "publish"
)

const defaultSearchResults = 5

// ToolCatalog marketplace listing endpoints
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]models.Tool, error)
	SearchTools(ctx context.Context, query string, k int) (*models.SearchResponse, error)
	PublishTool(ctx context.Context, token string, draft models.ToolDraft) (*models.Tool, error)
}

// Invoker runs a tool, paying when required
type Invoker interface {
	Invoke(ctx context.Context, req models.InvocationRequest) (*models.InvocationResult, error)
}

// Sessions stored marketplace login
type Sessions interface {
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Logout(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	WhoAmI(ctx context.Context) (*services.Session, error)
}

// ConfigResult copy-config payload
type ConfigResult struct {
	Slug   string `json:"slug"`
	Config string `json:"config"`
}

// MarketplaceActions binds the marketplace UI events to the client, the invocation flow and the session
type MarketplaceActions struct {
	catalog  ToolCatalog
	invoker  Invoker
	sessions Sessions
	notifier services.Notifier
}

func NewMarketplaceActions(catalog ToolCatalog, invoker Invoker, sessions Sessions, notifier services.Notifier) *MarketplaceActions {
	if notifier == nil {
		notifier = services.LogNotifier{}
	}
	return &MarketplaceActions{
		catalog:  catalog,
		invoker:  invoker,
		sessions: sessions,
		notifier: notifier,
	}
}

// Register binds every action and form to surface
func (a *MarketplaceActions) Register(surface ui.Surface) {
	surface.OnClick(ActionUseTool, a.instrument("click", ActionUseTool, a.UseTool))
	surface.OnClick(ActionCopyConfig, a.instrument("click", ActionCopyConfig, a.CopyConfig))
	surface.OnClick(ActionListTools, a.instrument("click", ActionListTools, a.ListTools))
	surface.OnClick(ActionLogout, a.instrument("click", ActionLogout, a.Logout))
	surface.OnClick(ActionWhoAmI, a.instrument("click", ActionWhoAmI, a.WhoAmI))
	surface.OnSubmit(FormSearch, a.instrument("submit", FormSearch, a.Search))
	surface.OnSubmit(FormLogin, a.instrument("submit", FormLogin, a.Login))
	surface.OnSubmit(FormPublish, a.instrument("submit", FormPublish, a.Publish))
}

func (a *MarketplaceActions) instrument(kind, name string, h ui.Handler) ui.Handler {
	return func(ctx context.Context, ev ui.Event) (interface{}, error) {
		out, err := h(ctx, ev)
		status := "ok"
		if err != nil {
			status = "error"
			// flow errors have already been shown by the invocation service
			if services.KindOf(err) == "" {
				a.notifier.Notify(ctx, services.Notification{Level: services.LevelError, Message: err.Error(), ToolID: ev.Target})
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"kind": kind,
				"name": name,
			}).Debug("⚠️ [MarketplaceActions] Action failed")
		}
		metrics.UIActions.WithLabelValues(kind, name, status).Inc()
		return out, err
	}
}

// UseTool click on a tool's run button. Target is the tool id; Values["name"] its display name.
func (a *MarketplaceActions) UseTool(ctx context.Context, ev ui.Event) (interface{}, error) {
	token, err := a.sessions.Token(ctx)
	if err != nil && !errors.Is(err, services.ErrMissingCredential) {
		return nil, err
	}

	// a missing token is reported by the flow itself
	return a.invoker.Invoke(ctx, models.InvocationRequest{
		ToolID:     ev.Target,
		ToolName:   ev.Value("name"),
		Credential: token,
	})
}

// CopyConfig builds the MCP client configuration for a tool.
// Values["url"] and Values["name"] are used when present, otherwise the tool is looked up by id.
func (a *MarketplaceActions) CopyConfig(ctx context.Context, ev ui.Event) (interface{}, error) {
	tool := models.Tool{ID: models.FlexibleID(ev.Target), Name: ev.Value("name"), URL: ev.Value("url")}
	if tool.URL == "" || tool.Name == "" {
		found, err := a.findTool(ctx, ev.Target)
		if err != nil {
			return nil, err
		}
		tool = *found
	}

	cfg, err := models.BuildMCPConfig(tool)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool.Name, err)
	}
	text, err := cfg.JSON()
	if err != nil {
		return nil, err
	}

	a.notifier.Notify(ctx, services.Notification{Level: services.LevelSuccess, Message: "Config copied to clipboard!", ToolID: ev.Target})
	return ConfigResult{Slug: models.ToolSlug(tool.Name), Config: text}, nil
}

func (a *MarketplaceActions) findTool(ctx context.Context, id string) (*models.Tool, error) {
	tools, err := a.catalog.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tools {
		if tools[i].ID.String() == id {
			return &tools[i], nil
		}
	}
	return nil, fmt.Errorf("tool %s not found", id)
}

// ListTools click on the marketplace tab
func (a *MarketplaceActions) ListTools(ctx context.Context, _ ui.Event) (interface{}, error) {
	return a.catalog.ListTools(ctx)
}

// Search semantic search form; an empty query lists everything
func (a *MarketplaceActions) Search(ctx context.Context, ev ui.Event) (interface{}, error) {
	query := strings.TrimSpace(ev.Value("query"))
	if query == "" {
		tools, err := a.catalog.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		return &models.SearchResponse{Results: tools}, nil
	}

	k := defaultSearchResults
	if raw := ev.Value("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid result count %q", raw)
		}
		k = n
	}
	return a.catalog.SearchTools(ctx, query, k)
}

// Login form
func (a *MarketplaceActions) Login(ctx context.Context, ev ui.Event) (interface{}, error) {
	sess, err := a.sessions.Login(ctx, ev.Value("email"), ev.Value("password"))
	if err != nil {
		return nil, err
	}
	a.notifier.Notify(ctx, services.Notification{Level: services.LevelSuccess, Message: "Logged in as " + sess.Email})
	return sess, nil
}

// Logout click
func (a *MarketplaceActions) Logout(ctx context.Context, _ ui.Event) (interface{}, error) {
	if err := a.sessions.Logout(ctx); err != nil {
		return nil, err
	}
	a.notifier.Notify(ctx, services.Notification{Level: services.LevelInfo, Message: "Logged out."})
	return map[string]bool{"logged_out": true}, nil
}

// WhoAmI click on the account badge
func (a *MarketplaceActions) WhoAmI(ctx context.Context, _ ui.Event) (interface{}, error) {
	return a.sessions.WhoAmI(ctx)
}

// Publish seller form. env_vars is one KEY=VALUE per line.
func (a *MarketplaceActions) Publish(ctx context.Context, ev ui.Event) (interface{}, error) {
	token, err := a.sessions.Token(ctx)
	if err != nil {
		return nil, err
	}

	draft, err := DraftFromValues(ev.Values)
	if err != nil {
		return nil, err
	}
	tool, err := a.catalog.PublishTool(ctx, token, draft)
	if err != nil {
		return nil, err
	}

	a.notifier.Notify(ctx, services.Notification{
		Level:   services.LevelSuccess,
		Message: fmt.Sprintf("Tool %s submitted! Build queued.", tool.Name),
		ToolID:  tool.ID.String(),
	})
	return tool, nil
}

// DraftFromValues reads a ToolDraft from flat form values
func DraftFromValues(values map[string]string) (models.ToolDraft, error) {
	draft := models.ToolDraft{
		Name:         strings.TrimSpace(values["name"]),
		Description:  values["description"],
		RepoURL:      strings.TrimSpace(values["repo_url"]),
		Branch:       strings.TrimSpace(values["branch"]),
		BuildCommand: values["build_command"],
		StartCommand: values["start_command"],
		RootDir:      strings.TrimSpace(values["root_dir"]),
		EnvVars:      map[string]string{},
	}

	if raw := strings.TrimSpace(values["cost"]); raw != "" {
		cost, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return draft, fmt.Errorf("invalid cost %q", raw)
		}
		draft.Cost = cost
	}

	for _, line := range strings.Split(values["env_vars"], "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return draft, fmt.Errorf("invalid env var line %q, want KEY=VALUE", line)
		}
		draft.EnvVars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if err := draft.Validate(); err != nil {
		return draft, err
	}
	return draft, nil
}
