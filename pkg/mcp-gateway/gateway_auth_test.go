package mcpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
)

const resourceMetadataURL = "https://example-server.modelcontextprotocol.io/.well-known/oauth-protected-resource"

func TestGatewayBearerToken(t *testing.T) {
	t.Parallel()

	var verifierCalls atomic.Int32
	gateway, err := NewGateway(emptyFleet(t), &Options{
		Path:   "/mcp",
		Logger: quietLogger(),
		TokenVerifier: func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			if token != "valid" {
				return nil, auth.ErrInvalidToken
			}
			verifierCalls.Add(1)
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{ResourceMetadataURL: resourceMetadataURL},
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	endpoint := server.URL + "/mcp"

	resp, err := server.Client().Post(endpoint, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}
	if got, want := resp.Header.Get("WWW-Authenticate"), "Bearer resource_metadata="+resourceMetadataURL; got != want {
		t.Fatalf("WWW-Authenticate = %q, want %q", got, want)
	}

	req, _ := http.NewRequest(http.MethodPost, endpoint, strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer valid")
	req.Header.Set("Content-Type", "application/json")
	resp, err = server.Client().Do(req)
	if err != nil {
		t.Fatalf("post with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("request with a valid token was rejected")
	}
	if n := verifierCalls.Load(); n != 1 {
		t.Fatalf("verifier calls = %d, want 1", n)
	}
}

func TestGatewayWithoutAuthIsOpen(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyFleet(t), &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	resp, err := server.Client().Post(server.URL+"/mcp", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("unauthorized without auth configured")
	}
	if res, _ := get(t, server.URL+ProtectedResourcePath, nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("metadata served without auth: %d", res.StatusCode)
	}
}

func TestGatewayTokenOptionsRequireVerifier(t *testing.T) {
	t.Parallel()

	_, err := NewGateway(emptyFleet(t), &Options{
		TokenOptions: &auth.RequireBearerTokenOptions{Scopes: []string{"required"}},
	})
	if err == nil {
		t.Fatal("NewGateway accepted TokenOptions without a TokenVerifier")
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyFleet(t), &Options{
		Logger: quietLogger(),
		TokenVerifier: func(context.Context, string, *http.Request) (*auth.TokenInfo, error) {
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
		TokenOptions: &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: resourceMetadataURL,
			Scopes:              []string{"fleet:read"},
		},
		AuthorizationServer: "https://example-server.modelcontextprotocol.io/",
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	endpoint := server.URL + ProtectedResourcePath

	t.Run("document", func(t *testing.T) {
		res, body := get(t, endpoint, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", res.StatusCode)
		}
		if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("Access-Control-Allow-Origin without Origin = %q", got)
		}
		var meta resourceMetadata
		if err := json.Unmarshal([]byte(body), &meta); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if meta.Resource != server.URL+"/mcp" || meta.AuthorizationServers[0] != "https://example-server.modelcontextprotocol.io/" || meta.ScopesSupported[0] != "fleet:read" {
			t.Fatalf("metadata = %+v", meta)
		}
	})

	t.Run("cross-origin", func(t *testing.T) {
		res, _ := get(t, endpoint, http.Header{"Origin": {"https://inspector.example.com"}})
		if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
		}
	})
}
