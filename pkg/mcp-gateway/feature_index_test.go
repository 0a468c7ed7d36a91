package mcpgateway

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestFeatureIndexUpdateTools(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	removed, added := fi.UpdateTools("alpha", []*mcp.Tool{{Name: "echo"}, nil})
	if len(removed) != 0 || len(added) != 1 {
		t.Fatalf("removed=%v added=%d", removed, len(added))
	}
	reg := added[0]
	if reg.Target != (target{Exposed: "alpha__echo", Server: "alpha", Native: "echo"}) {
		t.Fatalf("target = %+v", reg.Target)
	}
	if reg.Feature.Name != "alpha__echo" || reg.Feature.Meta[metaKeyServer] != "alpha" || reg.Feature.InputSchema == nil {
		t.Fatalf("feature = %+v", reg.Feature)
	}
	if got, ok := fi.Tool("alpha__echo"); !ok || got.Native != "echo" {
		t.Fatalf("lookup = %+v, %v", got, ok)
	}

	removed, added = fi.UpdateTools("alpha", []*mcp.Tool{{Name: "sum"}})
	if len(removed) != 1 || removed[0] != "alpha__echo" || len(added) != 1 {
		t.Fatalf("second update removed=%v added=%d", removed, len(added))
	}
	if _, ok := fi.Tool("alpha__echo"); ok {
		t.Fatal("stale tool still indexed")
	}
}

func TestFeatureIndexResources(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	_, added := fi.UpdateResources("bravo", []*mcp.Resource{{URI: "file://notes", Name: "notes"}})
	exposed := added[0].Feature.URI
	if got, ok := fi.Resource(exposed); !ok || got.Native != "file://notes" {
		t.Fatalf("resource = %+v, %v", got, ok)
	}
	if got, ok := fi.ExposedResource("bravo", "file://notes"); !ok || got != exposed {
		t.Fatalf("reverse = %q, %v", got, ok)
	}

	tools, prompts, resources := fi.Forget("bravo")
	if len(tools) != 0 || len(prompts) != 0 || len(resources) != 1 {
		t.Fatalf("forget = %v %v %v", tools, prompts, resources)
	}
	if _, ok := fi.ExposedResource("bravo", "file://notes"); ok {
		t.Fatal("reverse entry survived Forget")
	}
}
