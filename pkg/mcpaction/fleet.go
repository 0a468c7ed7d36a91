package mcpaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
)

// FleetAction is an operation fanned out across many servers.
type FleetAction string

const (
	FleetHealthCheck         FleetAction = "Health Check"
	FleetListToolsAcross     FleetAction = "List Tools Across"
	FleetListResourcesAcross FleetAction = "List Resources Across"
	FleetListPromptsAcross   FleetAction = "List Prompts Across"
	FleetCallToolAcross      FleetAction = "Call Tool Across"
)

// fleetResult is the per-server map plus its summary.
type fleetResult struct {
	results any
	summary mcpmgr.Summary
}

type fleetFunc func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error)

func summarize[T any](res mcpmgr.Results[T], err error) (fleetResult, error) {
	if err != nil {
		return fleetResult{}, err
	}
	return fleetResult{results: res, summary: res.Summary()}, nil
}

func fanoutOptions(p Params) *mcpmgr.FanoutOptions {
	return &mcpmgr.FanoutOptions{Concurrency: p.Concurrency}
}

var fleetTable = map[FleetAction]fleetFunc{
	FleetHealthCheck: func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error) {
		return summarize(m.HealthCheck(ctx, targets, p.Concurrency), nil)
	},
	FleetListToolsAcross: func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error) {
		return summarize(m.ListToolsAcross(ctx, targets, fanoutOptions(p)))
	},
	FleetListResourcesAcross: func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error) {
		return summarize(m.ListResourcesAcross(ctx, targets, fanoutOptions(p)))
	},
	FleetListPromptsAcross: func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error) {
		return summarize(m.ListPromptsAcross(ctx, targets, fanoutOptions(p)))
	},
	FleetCallToolAcross: func(ctx context.Context, m *mcpmgr.Manager, targets []string, p Params) (fleetResult, error) {
		if p.ToolName == "" {
			return fleetResult{}, requiredFor("toolName", FleetCallToolAcross)
		}
		args, err := toolArguments(p.ToolArgs)
		if err != nil {
			return fleetResult{}, err
		}
		return summarize(m.CallToolAcross(ctx, targets, p.ToolName, args, fanoutOptions(p)))
	},
}

// FleetActions lists the recognized fleet actions.
func FleetActions() []FleetAction {
	return []FleetAction{
		FleetHealthCheck, FleetListToolsAcross, FleetListResourcesAcross,
		FleetListPromptsAcross, FleetCallToolAcross,
	}
}

func lookupFleetAction(action FleetAction) (fleetFunc, error) {
	fn, ok := fleetTable[action]
	if !ok {
		return nil, fmt.Errorf("Unknown fleet action: %s", action)
	}
	return fn, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
