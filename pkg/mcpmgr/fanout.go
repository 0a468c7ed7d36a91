package mcpmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/resilience"
)

// Result is one server's outcome in a fan-out.
type Result[T any] struct {
	OK    bool   `json:"ok"`
	Data  T      `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	// Err is the underlying error for errors.Is / errors.As.
	Err error `json:"-"`
}

// Results maps server name to outcome.
type Results[T any] map[string]Result[T]

// Summary counts outcomes.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summary counts successful and failed entries.
func (r Results[T]) Summary() Summary {
	s := Summary{Total: len(r)}
	for _, res := range r {
		if res.OK {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// FanoutOptions tunes a fan-out.
type FanoutOptions struct {
	// Concurrency caps in-flight servers. Zero uses the manager default.
	Concurrency int
	// FailFast returns the first error as soon as it happens instead of a
	// per-server failure. Operations still in flight finish in the
	// background and their results are discarded.
	FailFast bool
}

// Fanout runs op through WithClient for every name, at most Concurrency at a
// time. An empty names yields an empty map. Unless FailFast is set the
// returned map has an entry for every name and the error is nil.
func Fanout[T any](ctx context.Context, m *Manager, names []string, op func(context.Context, *mcpclient.Client) (T, error), opts *FanoutOptions) (Results[T], error) {
	var o FanoutOptions
	if opts != nil {
		o = *opts
	}
	if o.Concurrency <= 0 {
		o.Concurrency = m.options.Concurrency
	}
	if len(names) == 0 {
		return Results[T]{}, nil
	}

	sem := resilience.NewSemaphore(o.Concurrency)
	results := make(Results[T], len(names))
	var (
		mu    sync.Mutex
		g     errgroup.Group
		first = make(chan error, 1)
	)
	for _, name := range names {
		g.Go(func() error {
			var (
				data T
				err  error
			)
			if permitErr := sem.WithPermit(ctx, func(ctx context.Context) error {
				data, err = WithClient(ctx, m, name, op)
				return nil
			}); permitErr != nil {
				err = permitErr
			}

			res := Result[T]{OK: err == nil, Data: data}
			if err != nil {
				res.Error = err.Error()
				res.Err = err
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()

			if err != nil && o.FailFast {
				err = fmt.Errorf("mcpmgr: %s: %w", name, err)
				select {
				case first <- err:
				default:
				}
				return err
			}
			return nil
		})
	}
	if !o.FailFast {
		_ = g.Wait()
		return results, nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case err := <-first:
		return nil, err
	case <-done:
	}
	// A failure may have landed just before done closed.
	select {
	case err := <-first:
		return nil, err
	default:
	}
	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

// targets defaults an empty selection to every registered server.
func (m *Manager) targets(names []string) []string {
	if len(names) == 0 {
		return m.ServerNames()
	}
	return names
}

// ListToolsAcross lists tools on every named server, or on the whole fleet
// when names is empty.
func (m *Manager) ListToolsAcross(ctx context.Context, names []string, opts *FanoutOptions) (Results[[]*mcp.Tool], error) {
	return Fanout(ctx, m, m.targets(names), func(ctx context.Context, c *mcpclient.Client) ([]*mcp.Tool, error) {
		return c.ListTools(ctx)
	}, opts)
}

// ListResourcesAcross lists resources on every named server.
func (m *Manager) ListResourcesAcross(ctx context.Context, names []string, opts *FanoutOptions) (Results[[]*mcp.Resource], error) {
	return Fanout(ctx, m, m.targets(names), func(ctx context.Context, c *mcpclient.Client) ([]*mcp.Resource, error) {
		return c.ListResources(ctx)
	}, opts)
}

// ListPromptsAcross lists prompts on every named server.
func (m *Manager) ListPromptsAcross(ctx context.Context, names []string, opts *FanoutOptions) (Results[[]*mcp.Prompt], error) {
	return Fanout(ctx, m, m.targets(names), func(ctx context.Context, c *mcpclient.Client) ([]*mcp.Prompt, error) {
		return c.ListPrompts(ctx)
	}, opts)
}

// CallToolAcross calls the same tool with the same arguments on every named
// server.
func (m *Manager) CallToolAcross(ctx context.Context, names []string, tool string, args any, opts *FanoutOptions) (Results[*mcp.CallToolResult], error) {
	return Fanout(ctx, m, m.targets(names), func(ctx context.Context, c *mcpclient.Client) (*mcp.CallToolResult, error) {
		return c.CallTool(ctx, tool, args)
	}, opts)
}

// HealthCheck connects to every named server and reports what its client
// learned. Failures are always recorded per server. Concurrency defaults to
// 20 regardless of the manager default.
func (m *Manager) HealthCheck(ctx context.Context, names []string, concurrency int) Results[mcpclient.Info] {
	if concurrency <= 0 {
		concurrency = 20
	}
	res, _ := Fanout(ctx, m, m.targets(names), func(_ context.Context, c *mcpclient.Client) (mcpclient.Info, error) {
		return c.ServerInfo(), nil
	}, &FanoutOptions{Concurrency: concurrency})
	return res
}
