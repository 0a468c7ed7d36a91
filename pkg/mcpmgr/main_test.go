package mcpmgr

import (
	"os"
	"testing"

	"github.com/vikashloomba/mcp-fleet-go/internal/mcptest"
)

func TestMain(m *testing.M) {
	mcptest.Main()
	os.Exit(m.Run())
}
