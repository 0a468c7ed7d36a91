package mcpaction

import (
	"context"
	"fmt"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
)

// Action is an operation against one server's client.
type Action string

const (
	ActionGetServerInfo       Action = "Get Server Info"
	ActionListTools           Action = "List Tools"
	ActionCallTool            Action = "Call Tool"
	ActionListResources       Action = "List Resources"
	ActionReadResource        Action = "Read Resource"
	ActionSubscribeResource   Action = "Subscribe Resource"
	ActionUnsubscribeResource Action = "Unsubscribe Resource"
	ActionListPrompts         Action = "List Prompts"
	ActionGetPrompt           Action = "Get Prompt"
	ActionListRoots           Action = "List Roots"
)

type actionFunc func(ctx context.Context, c *mcpclient.Client, p Params) (any, error)

var actionTable = map[Action]actionFunc{
	ActionGetServerInfo: func(_ context.Context, c *mcpclient.Client, _ Params) (any, error) {
		return c.ServerInfo(), nil
	},
	ActionListTools: func(ctx context.Context, c *mcpclient.Client, _ Params) (any, error) {
		return c.ListTools(ctx)
	},
	ActionCallTool: func(ctx context.Context, c *mcpclient.Client, p Params) (any, error) {
		if p.ToolName == "" {
			return nil, requiredFor("toolName", ActionCallTool)
		}
		args, err := toolArguments(p.ToolArgs)
		if err != nil {
			return nil, err
		}
		return c.CallTool(ctx, p.ToolName, args)
	},
	ActionListResources: func(ctx context.Context, c *mcpclient.Client, _ Params) (any, error) {
		return c.ListResources(ctx)
	},
	ActionReadResource: func(ctx context.Context, c *mcpclient.Client, p Params) (any, error) {
		if p.ResourceURI == "" {
			return nil, requiredFor("resourceUri", ActionReadResource)
		}
		return c.ReadResource(ctx, p.ResourceURI)
	},
	ActionSubscribeResource: func(ctx context.Context, c *mcpclient.Client, p Params) (any, error) {
		if p.ResourceURI == "" {
			return nil, requiredFor("resourceUri", ActionSubscribeResource)
		}
		return map[string]any{}, c.SubscribeResource(ctx, p.ResourceURI)
	},
	ActionUnsubscribeResource: func(ctx context.Context, c *mcpclient.Client, p Params) (any, error) {
		if p.ResourceURI == "" {
			return nil, requiredFor("resourceUri", ActionUnsubscribeResource)
		}
		return map[string]any{}, c.UnsubscribeResource(ctx, p.ResourceURI)
	},
	ActionListPrompts: func(ctx context.Context, c *mcpclient.Client, _ Params) (any, error) {
		return c.ListPrompts(ctx)
	},
	ActionGetPrompt: func(ctx context.Context, c *mcpclient.Client, p Params) (any, error) {
		if p.PromptName == "" {
			return nil, requiredFor("promptName", ActionGetPrompt)
		}
		args, err := promptArguments(p.PromptArgs)
		if err != nil {
			return nil, err
		}
		return c.GetPrompt(ctx, p.PromptName, args)
	},
	ActionListRoots: func(_ context.Context, c *mcpclient.Client, _ Params) (any, error) {
		return c.ListRoots()
	},
}

// Actions lists the recognized actions.
func Actions() []Action {
	return []Action{
		ActionGetServerInfo, ActionListTools, ActionCallTool, ActionListResources,
		ActionReadResource, ActionSubscribeResource, ActionUnsubscribeResource,
		ActionListPrompts, ActionGetPrompt, ActionListRoots,
	}
}

// Perform runs action against c.
func Perform(ctx context.Context, c *mcpclient.Client, action Action, p Params) (any, error) {
	fn, ok := actionTable[action]
	if !ok {
		return nil, fmt.Errorf("Unknown action: %s", action)
	}
	return fn(ctx, c, p)
}

func requiredFor[T ~string](field string, what T) error {
	return fmt.Errorf("%s is required for %s", field, what)
}
