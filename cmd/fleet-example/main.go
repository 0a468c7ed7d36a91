package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
	"github.com/vikashloomba/mcp-fleet-go/pkg/resilience"
)

func main() {
	manager, err := mcpmgr.NewManager([]mcpmgr.ServerDescriptor{
		{
			Name:      "everything",
			Transport: &mcptransport.StdioConfig{Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-everything"}},
		},
		{
			Name:      "docs",
			Transport: &mcptransport.HTTPConfig{Endpoint: "https://gitmcp.io/modelcontextprotocol/go-sdk"},
		},
	}, &mcpmgr.ManagerOptions{
		ClientName: "fleet-example",
		Circuit:    resilience.CircuitOptions{FailureThreshold: 3, Cooldown: 30 * time.Second},
	})
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	defer func() { _ = manager.DisconnectAll(context.Background()) }()

	tools, err := manager.ListToolsAcross(ctx, nil, &mcpmgr.FanoutOptions{Concurrency: 2})
	if err != nil {
		panic(err)
	}
	for name, res := range tools {
		if !res.OK {
			fmt.Printf("%s: %s\n", name, res.Error)
			continue
		}
		fmt.Printf("%s: %d tools\n", name, len(res.Data))
	}
	s := tools.Summary()
	fmt.Printf("%d/%d servers answered\n", s.Successful, s.Total)

	for _, name := range manager.ServerNames() {
		status, _ := manager.ServerInfo(name)
		fmt.Printf("%s connected=%v health=%s failures=%d\n", name, status.Connected, status.Health.Status, status.Failures)
	}
}
