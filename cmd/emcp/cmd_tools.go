package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"emcp-client/internal/app"
	"emcp-client/internal/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	searchResults int
	publishFile   string
)

// toolsCmd groups the marketplace catalog commands
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Browse and publish marketplace tools",
	Long: `Browse and publish marketplace tools.

Available subcommands:
  list    - List every tool
  search  - Semantic search
  config  - Print the MCP client configuration for a deployed tool
  publish - Submit a tool for building`,
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List marketplace tools",
	RunE:  runToolsList,
}

var toolsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search marketplace tools",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsSearch,
}

var toolsConfigCmd = &cobra.Command{
	Use:   "config <tool-id>",
	Short: "Print the MCP server configuration for a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsConfig,
}

var toolsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a tool from a YAML draft",
	Long: `Publish a tool described by a YAML draft:

  name: Weather
  description: Forecasts by city
  cost: 0.01
  repo_url: https://github.com/acme/weather-mcp
  branch: main
  start_command: python server.py
  env_vars:
    API_KEY: abc`,
	RunE: runToolsPublish,
}

func init() {
	toolsSearchCmd.Flags().IntVarP(&searchResults, "results", "k", 5, "Number of results")
	toolsPublishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "Draft file (required)")
	_ = toolsPublishCmd.MarkFlagRequired("file")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsSearchCmd)
	toolsCmd.AddCommand(toolsConfigCmd)
	toolsCmd.AddCommand(toolsPublishCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		tools, err := c.Marketplace.ListTools(ctx)
		if err != nil {
			return err
		}
		return printTools(cmd.OutOrStdout(), tools)
	})
}

func runToolsSearch(cmd *cobra.Command, args []string) error {
	if searchResults <= 0 {
		return fmt.Errorf("--results must be positive")
	}
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		resp, err := c.Marketplace.SearchTools(ctx, args[0], searchResults)
		if err != nil {
			return err
		}
		return printTools(cmd.OutOrStdout(), resp.Results)
	})
}

func runToolsConfig(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		tools, err := c.Marketplace.ListTools(ctx)
		if err != nil {
			return err
		}
		tool := findTool(tools, args[0])
		if tool == nil {
			return fmt.Errorf("tool %s not found", args[0])
		}

		mcpConfig, err := models.BuildMCPConfig(*tool)
		if err != nil {
			return fmt.Errorf("%s: %w", tool.Name, err)
		}
		text, err := mcpConfig.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	})
}

func runToolsPublish(cmd *cobra.Command, args []string) error {
	draft, err := loadDraft(publishFile)
	if err != nil {
		return err
	}
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		token, err := c.Sessions.Token(ctx)
		if err != nil {
			return err
		}
		tool, err := c.Marketplace.PublishTool(ctx, token, draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Tool %s submitted! Build queued. (id %s)\n", tool.Name, tool.ID)
		return nil
	})
}

// loadDraft reads and validates a YAML tool draft
func loadDraft(path string) (models.ToolDraft, error) {
	var draft models.ToolDraft
	data, err := os.ReadFile(path)
	if err != nil {
		return draft, fmt.Errorf("failed to read draft: %w", err)
	}
	if err := yaml.Unmarshal(data, &draft); err != nil {
		return draft, fmt.Errorf("failed to parse draft: %w", err)
	}
	if err := draft.Validate(); err != nil {
		return draft, err
	}
	return draft, nil
}

func findTool(tools []models.Tool, id string) *models.Tool {
	for i := range tools {
		if tools[i].ID.String() == id {
			return &tools[i]
		}
	}
	return nil
}

func printTools(out io.Writer, tools []models.Tool) error {
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOST\tURL")
	for _, tool := range tools {
		url := tool.URL
		if url == "" {
			url = "(not deployed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\n", tool.ID, tool.Name, tool.Cost, url)
	}
	return tw.Flush()
}
