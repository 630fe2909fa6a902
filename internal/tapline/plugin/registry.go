package plugin

import (
	"fmt"
	"log"
	"sort"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// Registry owns the ordered plugin list. It is created once at process start
// and passed to whatever assembles the HTTP surface and the tap pipeline —
// there is no package-level singleton.
type Registry struct {
	logger  *log.Logger
	entries []entry
}

type entry struct {
	p   Plugin
	idx int // registration order, tie-breaker
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a plugin after checking that every declared capability is
// backed by the matching hook interface. A declaration without an
// implementation is a programming error in the plugin and is rejected here,
// at startup, rather than surfacing as a nil-method panic mid-tap.
func (r *Registry) Register(p Plugin) error {
	caps := p.Capabilities()
	checks := []struct {
		cap  CapabilitySet
		ok   bool
		name string
	}{
		{CapStartup, implementsStartup(p), "OnStartup"},
		{CapTap, implementsTap(p), "OnTap"},
		{CapStats, implementsStats(p), "OnDashboardStats"},
		{CapRoutes, implementsRoutes(p), "OnAPIRoutes"},
		{CapShutdown, implementsShutdown(p), "OnShutdown"},
	}
	for _, c := range checks {
		if caps.Has(c.cap) && !c.ok {
			return fmt.Errorf("plugin %s declares %s but does not implement it", p.Name(), c.name)
		}
	}

	r.entries = append(r.entries, entry{p: p, idx: len(r.entries)})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].p.Order() == r.entries[j].p.Order() {
			return r.entries[i].idx < r.entries[j].idx
		}
		return r.entries[i].p.Order() < r.entries[j].p.Order()
	})
	return nil
}

// Plugins returns the registered plugins in dispatch order.
func (r *Registry) Plugins() []Plugin {
	out := make([]Plugin, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.p
	}
	return out
}

func (r *Registry) StartAll(ctx *Context) {
	for _, e := range r.entries {
		if !e.p.Capabilities().Has(CapStartup) {
			continue
		}
		h := e.p.(StartupHook)
		r.invoke(e.p.Name(), "OnStartup", func() error { return h.OnStartup(ctx) })
	}
}

// DispatchTap threads the same TapContext through every OnTap hook in order.
// A hook that fails or panics is logged and skipped; the rest still run.
// One misbehaving extension must never block event logging.
func (r *Registry) DispatchTap(tc *TapContext) {
	for _, e := range r.entries {
		if !e.p.Capabilities().Has(CapTap) {
			continue
		}
		h := e.p.(TapHook)
		r.invoke(e.p.Name(), "OnTap", func() error { return h.OnTap(tc) })
	}
}

func (r *Registry) DispatchStats(stats *types.DashboardStats) {
	for _, e := range r.entries {
		if !e.p.Capabilities().Has(CapStats) {
			continue
		}
		h := e.p.(StatsHook)
		r.invoke(e.p.Name(), "OnDashboardStats", func() error { return h.OnDashboardStats(stats) })
	}
}

func (r *Registry) RegisterRoutes(reg Registrar) {
	for _, e := range r.entries {
		if !e.p.Capabilities().Has(CapRoutes) {
			continue
		}
		h := e.p.(RouteHook)
		r.invoke(e.p.Name(), "OnAPIRoutes", func() error { return h.OnAPIRoutes(reg) })
	}
}

func (r *Registry) ShutdownAll() {
	for _, e := range r.entries {
		if !e.p.Capabilities().Has(CapShutdown) {
			continue
		}
		h := e.p.(ShutdownHook)
		r.invoke(e.p.Name(), "OnShutdown", h.OnShutdown)
	}
}

// invoke isolates one hook call: errors are logged, panics are recovered.
func (r *Registry) invoke(name, hook string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("plugin %s: %s panicked: %v", name, hook, rec)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Printf("plugin %s: %s error: %v", name, hook, err)
	}
}

func implementsStartup(p Plugin) bool  { _, ok := p.(StartupHook); return ok }
func implementsTap(p Plugin) bool      { _, ok := p.(TapHook); return ok }
func implementsStats(p Plugin) bool    { _, ok := p.(StatsHook); return ok }
func implementsRoutes(p Plugin) bool   { _, ok := p.(RouteHook); return ok }
func implementsShutdown(p Plugin) bool { _, ok := p.(ShutdownHook); return ok }
