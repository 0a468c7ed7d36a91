package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/pkg/discovery"
	mcpgateway "github.com/vikashloomba/mcp-fleet-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers, err := (&discovery.Discoverer{}).DiscoverAll(ctx, nil)
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}
	manager, err := mcpmgr.NewManager(servers, &mcpmgr.ManagerOptions{ClientName: "gateway-example"})
	if err != nil {
		log.Fatalf("failed to build fleet: %v", err)
	}
	defer func() { _ = manager.DisconnectAll(context.Background()) }()

	opts := &mcpgateway.Options{
		Addr:       ":8787",
		Path:       "/mcp",
		Streamable: mcp.StreamableHTTPOptions{JSONResponse: true},
	}
	if metadataURL := os.Getenv("OAUTH_RESOURCE_METADATA_URL"); metadataURL != "" {
		opts.TokenVerifier = func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			// Validate token with the upstream authorization server here.
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
		}
		opts.TokenOptions = &auth.RequireBearerTokenOptions{ResourceMetadataURL: metadataURL}
		opts.AuthorizationServer = os.Getenv("AUTHORIZATION_SERVER_URL")
	}

	gateway, err := mcpgateway.NewGateway(manager, opts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	everything := mcpmgr.ServerDescriptor{
		Name:      "everything",
		Transport: &mcptransport.StdioConfig{Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-everything"}},
	}
	if !manager.HasServer(everything.Name) {
		if err := gateway.AttachServer(ctx, everything); err != nil {
			log.Printf("everything server unavailable: %v", err)
		}
	}

	log.Printf("gateway serving %d servers on %s%s", len(manager.ServerNames()), opts.Addr, opts.Path)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway stopped: %v", err)
	}
}
