// Package provider loads content through the delivery layer.
//
// A provider is selected once when the session is configured. A plain
// provider loads every location from its default place. A delivery-aware
// provider first makes sure the bundle's unit is on the device, then loads
// from the unit.
package provider

import (
	"context"
	"io"
	"os"

	"github.com/roach88/packdelivery/internal/orchestrator"
	"github.com/roach88/packdelivery/internal/resolver"
)

// Capability tags what a provider can do.
type Capability int

const (
	CapabilityPlain Capability = iota
	CapabilityDeliveryAware
)

func (c Capability) String() string {
	if c == CapabilityDeliveryAware {
		return "delivery-aware"
	}
	return "plain"
}

// Provider locates and opens content.
type Provider struct {
	capability Capability
	res        *resolver.Resolver
	orch       *orchestrator.Orchestrator
}

// Plain returns a provider that never redirects.
func Plain() *Provider {
	return &Provider{capability: CapabilityPlain, res: resolver.Disabled()}
}

// DeliveryAware returns a provider that downloads units through orch and
// redirects through res.
func DeliveryAware(res *resolver.Resolver, orch *orchestrator.Orchestrator) *Provider {
	return &Provider{capability: CapabilityDeliveryAware, res: res, orch: orch}
}

// Capability returns the provider's capability tag.
func (p *Provider) Capability() Capability { return p.capability }

// Locate returns the physical path of loc, waiting for its unit if needed.
// On a delivery failure the default location is returned with the error so
// the caller can decide whether to fall back.
func (p *Provider) Locate(ctx context.Context, loc resolver.Location) (string, error) {
	if p.capability == CapabilityPlain || loc.Kind != resolver.KindBundle {
		return loc.InternalID, nil
	}

	if _, err := p.orch.Request(ctx, loc.BundleID()).Wait(ctx); err != nil {
		return loc.InternalID, err
	}
	return p.res.Resolve(loc), nil
}

// LocateAsync is Locate without blocking. done runs on the dispatch cycle
// that completes the unit, or immediately when nothing has to download.
func (p *Provider) LocateAsync(ctx context.Context, loc resolver.Location, done func(string, error)) {
	if p.capability == CapabilityPlain || loc.Kind != resolver.KindBundle {
		done(loc.InternalID, nil)
		return
	}

	p.orch.Request(ctx, loc.BundleID()).OnDone(func(out orchestrator.Outcome) {
		if out.Err != nil {
			done(loc.InternalID, out.Err)
			return
		}
		done(p.res.Resolve(loc), nil)
	})
}

// Open locates loc and opens it for reading.
func (p *Provider) Open(ctx context.Context, loc resolver.Location) (io.ReadCloser, error) {
	path, err := p.Locate(ctx, loc)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}
