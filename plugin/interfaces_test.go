package plugin

import (
	"context"
	"testing"

	"github.com/go-chi/chi/v5"
)

// testFullPlugin implements all interfaces -- verifies compile-time compliance.
type testFullPlugin struct{}

func (p *testFullPlugin) Name() string                                    { return "TestFull" }
func (p *testFullPlugin) ID() int64                                       { return 1 }
func (p *testFullPlugin) HandleEvent(context.Context, string, *Event) error { return nil }

func (p *testFullPlugin) Init(context.Context) error           { return nil }
func (p *testFullPlugin) Disable(context.Context) error        { return nil }
func (p *testFullPlugin) ReadConfigFile(context.Context) error { return nil }
func (p *testFullPlugin) RegisterRoutes(chi.Router)            {}
func (p *testFullPlugin) HealthCheck(context.Context) error    { return nil }
func (p *testFullPlugin) Configure(ConfigProvider)             {}

// Compile-time assertions
var _ Plugin = (*testFullPlugin)(nil)
var _ Initializer = (*testFullPlugin)(nil)
var _ Disableable = (*testFullPlugin)(nil)
var _ ConfigReader = (*testFullPlugin)(nil)
var _ RouteProvider = (*testFullPlugin)(nil)
var _ HealthReporter = (*testFullPlugin)(nil)
var _ Configurable = (*testFullPlugin)(nil)

// testMinimalPlugin implements ONLY the core interface -- proves ISP works.
type testMinimalPlugin struct{}

func (p *testMinimalPlugin) Name() string                                    { return "TestMinimal" }
func (p *testMinimalPlugin) ID() int64                                       { return 2 }
func (p *testMinimalPlugin) HandleEvent(context.Context, string, *Event) error { return nil }

var _ Plugin = (*testMinimalPlugin)(nil)

func TestCapabilityDetection(t *testing.T) {
	full := Plugin(&testFullPlugin{})
	minimal := Plugin(&testMinimalPlugin{})

	// Full plugin has all capabilities
	if _, ok := full.(Initializer); !ok {
		t.Error("testFullPlugin should implement Initializer")
	}
	if _, ok := full.(RouteProvider); !ok {
		t.Error("testFullPlugin should implement RouteProvider")
	}
	if _, ok := full.(ConfigReader); !ok {
		t.Error("testFullPlugin should implement ConfigReader")
	}

	// Minimal plugin has no optional capabilities
	if _, ok := minimal.(Initializer); ok {
		t.Error("testMinimalPlugin should NOT implement Initializer")
	}
	if _, ok := minimal.(RouteProvider); ok {
		t.Error("testMinimalPlugin should NOT implement RouteProvider")
	}
	if _, ok := minimal.(Configurable); ok {
		t.Error("testMinimalPlugin should NOT implement Configurable")
	}
}
