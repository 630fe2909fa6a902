package plugin

import (
	"net/http"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// CapabilitySet declares which hooks a plugin implements. Registration
// verifies the declaration against the hook interfaces, so there is no
// runtime method probing.
type CapabilitySet uint8

const (
	CapStartup CapabilitySet = 1 << iota
	CapTap
	CapStats
	CapRoutes
	CapShutdown
)

func (c CapabilitySet) Has(cap CapabilitySet) bool { return c&cap != 0 }

// Plugin is the identity every extension provides. Order is the sole sort
// key for hook invocation; ties break by registration order.
type Plugin interface {
	Name() string
	Order() int
	Capabilities() CapabilitySet
}

// The five optional hooks. A plugin implements the interfaces matching its
// declared capabilities.
type (
	StartupHook interface {
		OnStartup(ctx *Context) error
	}
	TapHook interface {
		OnTap(tc *TapContext) error
	}
	StatsHook interface {
		OnDashboardStats(stats *types.DashboardStats) error
	}
	RouteHook interface {
		OnAPIRoutes(reg Registrar) error
	}
	ShutdownHook interface {
		OnShutdown() error
	}
)

// Registrar lets plugins expose HTTP endpoints under the extension prefix.
type Registrar interface {
	Handle(pattern string, h http.Handler)
}

// Context is the long-lived handle handed to plugins at startup. HTTP
// endpoints are not exposed here; plugins get those through OnAPIRoutes.
type Context struct {
	Events    store.EventStore
	Cards     store.CardStore
	SessionID string
	StationID string
}

// TapContext is threaded through every registered OnTap hook for one tap.
// Extra is scratch space for inter-plugin communication and is never
// persisted.
type TapContext struct {
	Event types.TapEvent
	Extra map[string]any
}

func NewTapContext(ev types.TapEvent) *TapContext {
	return &TapContext{Event: ev, Extra: make(map[string]any)}
}
