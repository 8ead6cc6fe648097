package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolSlug(t *testing.T) {
	assert.Equal(t, "my-cool-tool", ToolSlug("My  Cool Tool"))
	assert.Equal(t, "weather", ToolSlug("Weather"))
	assert.Equal(t, "tab-sep-name", ToolSlug("Tab\tSep\n Name"))
}

func TestBuildMCPConfig(t *testing.T) {
	cfg, err := BuildMCPConfig(Tool{Name: "My  Cool Tool", URL: "https://mcp.example.com/sse"})
	require.NoError(t, err)

	out, err := cfg.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"mcpServers":{"my-cool-tool":{"url":"https://mcp.example.com/sse","type":"sse"}}}`, out)
	assert.Contains(t, out, "\n  \"mcpServers\"")

	_, err = BuildMCPConfig(Tool{Name: "undeployed"})
	assert.ErrorIs(t, err, ErrNoDeploymentURL)
}

func TestTool_UnmarshalNumericID(t *testing.T) {
	var tools []Tool
	body := `[{"id": 42, "name": "a", "cost": 0.5, "owner_id": 7}, {"id": "tool-9", "name": "b"}]`
	require.NoError(t, json.Unmarshal([]byte(body), &tools))

	require.Len(t, tools, 2)
	assert.Equal(t, FlexibleID("42"), tools[0].ID)
	assert.Equal(t, "7", tools[0].OwnerID.String())
	assert.Equal(t, FlexibleID("tool-9"), tools[1].ID)
}

func TestToolDraft_Validate(t *testing.T) {
	d := ToolDraft{Name: "x", RepoURL: "https://github.com/a/b"}
	require.NoError(t, d.Validate())
	assert.Equal(t, "main", d.Branch)
	assert.Equal(t, ".", d.RootDir)
	assert.NotNil(t, d.EnvVars)

	assert.Error(t, (&ToolDraft{RepoURL: "r"}).Validate())
	assert.Error(t, (&ToolDraft{Name: "x"}).Validate())
	assert.Error(t, (&ToolDraft{Name: "x", RepoURL: "r", Cost: -1}).Validate())
}

func TestInvocationResult_Succeeded(t *testing.T) {
	assert.True(t, (&InvocationResult{Status: "success"}).Succeeded())
	assert.False(t, (&InvocationResult{Status: "error"}).Succeeded())

	var nilResult *InvocationResult
	assert.False(t, nilResult.Succeeded())
	assert.True(t, PaymentProof{TransactionHash: "  "}.Empty())
}
