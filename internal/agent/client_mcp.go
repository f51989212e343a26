package agent

import (
	"context"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// listTools refreshes the tool cache. After the initial listing the
// difference to the previous cache is logged.
func (c *Client) listTools(ctx context.Context, initial bool) error {
	req := mcp.ListToolsRequest{}
	c.logger.Request("tools/list", req.Params)

	result, err := c.client.ListTools(ctx, req)
	if err != nil {
		c.logger.Error("ListTools failed: %v", err)
		return err
	}
	c.logger.Response("tools/list", result)

	c.mu.Lock()
	old := c.toolCache
	c.toolCache = result.Tools
	c.mu.Unlock()

	if !initial {
		c.showDiff("Tool", names(old, toolName), names(result.Tools, toolName))
	}
	return nil
}

func (c *Client) listResources(ctx context.Context, initial bool) error {
	req := mcp.ListResourcesRequest{}
	c.logger.Request("resources/list", req.Params)

	result, err := c.client.ListResources(ctx, req)
	if err != nil {
		c.logger.Error("ListResources failed: %v", err)
		return err
	}
	c.logger.Response("resources/list", result)

	c.mu.Lock()
	old := c.resourceCache
	c.resourceCache = result.Resources
	c.mu.Unlock()

	if !initial {
		c.showDiff("Resource", names(old, resourceURI), names(result.Resources, resourceURI))
	}
	return nil
}

func (c *Client) listPrompts(ctx context.Context, initial bool) error {
	req := mcp.ListPromptsRequest{}
	c.logger.Request("prompts/list", req.Params)

	result, err := c.client.ListPrompts(ctx, req)
	if err != nil {
		c.logger.Error("ListPrompts failed: %v", err)
		return err
	}
	c.logger.Response("prompts/list", result)

	c.mu.Lock()
	old := c.promptCache
	c.promptCache = result.Prompts
	c.mu.Unlock()

	if !initial {
		c.showDiff("Prompt", names(old, promptName), names(result.Prompts, promptName))
	}
	return nil
}

// handleNotification logs a notification and re-lists on change
// announcements for capabilities the server supports.
func (c *Client) handleNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	c.logger.Notification(notification.Method, notification.Params)

	switch notification.Method {
	case notificationToolsListChanged:
		if c.ServerSupportsTools() {
			return c.listTools(ctx, false)
		}
	case notificationResourcesListChanged:
		if c.ServerSupportsResources() {
			return c.listResources(ctx, false)
		}
	case notificationPromptsListChanged:
		if c.ServerSupportsPrompts() {
			return c.listPrompts(ctx, false)
		}
	}
	return nil
}

func toolName(t mcp.Tool) string        { return t.Name }
func resourceURI(r mcp.Resource) string { return r.URI }
func promptName(p mcp.Prompt) string    { return p.Name }

func names[T any](items []T, key func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = key(item)
	}
	return out
}

// listDiff is the change between two listings, each part sorted.
type listDiff struct {
	Added     []string
	Removed   []string
	Unchanged []string
}

func diffNames(old, current []string) listDiff {
	oldSet := make(map[string]bool, len(old))
	for _, n := range old {
		oldSet[n] = true
	}
	newSet := make(map[string]bool, len(current))
	for _, n := range current {
		newSet[n] = true
	}

	var d listDiff
	for n := range newSet {
		if oldSet[n] {
			d.Unchanged = append(d.Unchanged, n)
		} else {
			d.Added = append(d.Added, n)
		}
	}
	for n := range oldSet {
		if !newSet[n] {
			d.Removed = append(d.Removed, n)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Unchanged)
	return d
}

func (c *Client) showDiff(kind string, old, current []string) {
	d := diffNames(old, current)
	if len(d.Added) == 0 && len(d.Removed) == 0 {
		c.logger.Info("No %s changes detected", strings.ToLower(kind))
		return
	}
	c.logger.Info("%s changes detected:", kind)
	for _, n := range d.Unchanged {
		c.logger.Success("  ✓ Unchanged: %s", n)
	}
	for _, n := range d.Added {
		c.logger.Success("  + Added: %s", n)
	}
	for _, n := range d.Removed {
		c.logger.Error("  - Removed: %s", n)
	}
}
