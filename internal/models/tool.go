package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ToolDefinition MCP tool exposed by a marketplace server
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Tool marketplace listing entry
type Tool struct {
	ID              FlexibleID       `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Cost            float64          `json:"cost"`
	URL             string           `json:"url,omitempty"`
	OwnerID         FlexibleID       `json:"owner_id,omitempty"`
	ToolDefinitions []ToolDefinition `json:"tool_definitions,omitempty"`
}

// FlexibleID identifier the API may encode as a JSON number or string
type FlexibleID string

// UnmarshalJSON accepts 42 as well as "42"
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string { return string(id) }

// ToolDraft publishing payload for POST /tools/
type ToolDraft struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description" yaml:"description"`
	Cost         float64           `json:"cost" yaml:"cost"`
	RepoURL      string            `json:"repo_url" yaml:"repo_url"`
	Branch       string            `json:"branch" yaml:"branch"`
	BuildCommand string            `json:"build_command" yaml:"build_command"`
	StartCommand string            `json:"start_command" yaml:"start_command"`
	RootDir      string            `json:"root_dir" yaml:"root_dir"`
	EnvVars      map[string]string `json:"env_vars" yaml:"env_vars"`
}

// Validate checks the fields the marketplace requires before a build is queued
func (d *ToolDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("tool name is required")
	}
	if strings.TrimSpace(d.RepoURL) == "" {
		return errors.New("repository url is required")
	}
	if d.Cost < 0 {
		return errors.New("cost must not be negative")
	}
	if d.Branch == "" {
		d.Branch = "main"
	}
	if d.RootDir == "" {
		d.RootDir = "."
	}
	if d.EnvVars == nil {
		d.EnvVars = map[string]string{}
	}
	return nil
}

// SearchResponse GET /search/ payload
type SearchResponse struct {
	Query   string `json:"query"`
	Results []Tool `json:"results"`
}

// MCPServerEntry one server in an MCP client configuration
type MCPServerEntry struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// MCPServerConfig configuration snippet for MCP-aware clients
type MCPServerConfig struct {
	MCPServers map[string]MCPServerEntry `json:"mcpServers"`
}

// ErrNoDeploymentURL tool has not been deployed yet
var ErrNoDeploymentURL = errors.New("tool has no deployment url")

var whitespaceRun = regexp.MustCompile(`\s+`)

// ToolSlug lower-cased name with whitespace runs replaced by '-'
func ToolSlug(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(name), "-")
}

// BuildMCPConfig builds the SSE configuration for a deployed tool
func BuildMCPConfig(tool Tool) (*MCPServerConfig, error) {
	if tool.URL == "" {
		return nil, ErrNoDeploymentURL
	}
	return &MCPServerConfig{
		MCPServers: map[string]MCPServerEntry{
			ToolSlug(tool.Name): {URL: tool.URL, Type: "sse"},
		},
	}, nil
}

// JSON pretty prints the configuration with two-space indentation
func (c *MCPServerConfig) JSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
