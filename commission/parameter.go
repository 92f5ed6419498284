package commission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// PARAMETER - A commission rule owned by exactly one client/collector/agency
// =============================================================================

type Scope string

const (
	ScopeClient    Scope = "CLIENT"
	ScopeCollector Scope = "COLLECTOR"
	ScopeAgency    Scope = "AGENCY"
)

// Parameter is a rule plus the single owner it is scoped to. Scope and
// OwnerID together make "exactly one owner" structural.
type Parameter struct {
	ID        string    `validate:"required"`
	Scope     Scope     `validate:"required,oneof=CLIENT COLLECTOR AGENCY"`
	OwnerID   string    `validate:"required"`
	Label     string    `validate:"max=120"`
	Rule      Rule      `validate:"-"`
	CreatedAt time.Time `validate:"-"`
}

// Validate checks the envelope and the rule. Tier sets are validated here,
// once, at write time.
func (p Parameter) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if p.Rule == nil {
		return fmt.Errorf("%w: missing rule", ErrInvalidParameter)
	}
	return p.Rule.Validate()
}

// ParameterStore persists parameters, at most one per (scope, owner).
type ParameterStore interface {
	// SaveParameter inserts or replaces the parameter for (Scope, OwnerID).
	SaveParameter(ctx context.Context, p Parameter) error

	// ParameterFor returns ErrParameterNotFound when the owner has none.
	ParameterFor(ctx context.Context, scope Scope, ownerID string) (*Parameter, error)
}

// DefineParameter validates p and saves it. Invalid parameters are never
// written.
func DefineParameter(ctx context.Context, store ParameterStore, p Parameter) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return store.SaveParameter(ctx, p)
}

// =============================================================================
// HIERARCHY RESOLVER - client -> collector -> agency
// =============================================================================

// HierarchyResolver finds the effective parameter for a client. A client's
// own parameter always wins, then its collector's, then the agency's.
type HierarchyResolver struct {
	Parameters ParameterStore
	Directory  Directory
}

// Resolve walks the hierarchy with explicit lookups. The collector is only
// fetched when the client has no parameter of its own.
func (r *HierarchyResolver) Resolve(ctx context.Context, client Client) (*Parameter, error) {
	p, err := r.lookup(ctx, ScopeClient, client.ID)
	if p != nil || err != nil {
		return p, err
	}

	p, err = r.lookup(ctx, ScopeCollector, client.CollectorID)
	if p != nil || err != nil {
		return p, err
	}

	collector, err := r.Directory.Collector(ctx, client.CollectorID)
	if err != nil {
		return nil, fmt.Errorf("resolve agency of collector %s: %w", client.CollectorID, err)
	}

	p, err = r.lookup(ctx, ScopeAgency, collector.AgencyID)
	if p != nil || err != nil {
		return p, err
	}

	return nil, &NoParameterError{ClientID: client.ID, CollectorID: client.CollectorID, AgencyID: collector.AgencyID}
}

// ResolveClient is Resolve for callers that only hold the client id.
func (r *HierarchyResolver) ResolveClient(ctx context.Context, clientID string) (*Parameter, error) {
	client, err := r.Directory.Client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, *client)
}

// lookup returns (nil, nil) on a miss so the caller can fall through.
func (r *HierarchyResolver) lookup(ctx context.Context, scope Scope, ownerID string) (*Parameter, error) {
	if ownerID == "" {
		return nil, nil
	}
	p, err := r.Parameters.ParameterFor(ctx, scope, ownerID)
	if errors.Is(err, ErrParameterNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s parameter for %s: %w", scope, ownerID, err)
	}
	return p, nil
}
