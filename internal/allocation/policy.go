package allocation

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"cloud-chargeback/internal/billing"
	"cloud-chargeback/internal/usage"
	cberrors "cloud-chargeback/pkg/errors"
)

// DirectoryView is the read-only ownership surface policies consult.
// Empty results are meaningful outcomes, never errors.
type DirectoryView interface {
	ActivePrincipalsForCluster(clusterID string) map[string]int
	OwnerOfConnector(connectorID string) (string, bool)
	OwnerOfStreamCluster(streamClusterID string) (string, bool)
	AllPrincipals() []string
	PrincipalsWithKeyInEnvironment(environmentID string) []string
	PrincipalsWithSchemaRegistryKey(environmentID string) []string
}

// UsageView exposes the usage window for the hour being computed.
type UsageView interface {
	SamplesFor(slice time.Time, clusterID string) []usage.Sample
}

// Context bundles the read-only inputs a policy may consult. Policies
// are pure given a Context and a line item.
type Context struct {
	Directory DirectoryView
	Usage     UsageView
	Logger    *slog.Logger
}

// Contribution is one principal's slice of a line item's cost.
type Contribution struct {
	Principal   string
	UsageDelta  decimal.Decimal
	SharedDelta decimal.Decimal
}

// Policy decides which principals absorb a line item's cost and in what
// proportion. The returned deltas must sum to the item's cost exactly.
type Policy func(pc *Context, item billing.LineItem) []Contribution

// Registry maps product types to allocation policies. It is built once
// at startup and passed by reference into the engine; lookups for
// unregistered product types warn and return the fallback policy.
type Registry struct {
	policies map[string]Policy
	fallback Policy
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		policies: make(map[string]Policy),
		fallback: DirectToResource,
		logger:   logger,
	}
}

// Register binds a product type to a policy.
func (r *Registry) Register(productType string, p Policy) {
	r.policies[productType] = p
}

// Lookup returns the policy for a product type, or the fallback with a
// logged warning when none is registered.
func (r *Registry) Lookup(productType string) Policy {
	if p, ok := r.policies[productType]; ok {
		return p
	}
	r.logger.Warn("no allocation policy for product type, attributing to resource",
		"product_type", productType, "error", cberrors.NewUnknownProductType(productType))
	return r.fallback
}

// Known reports whether a product type has a registered policy.
func (r *Registry) Known(productType string) bool {
	_, ok := r.policies[productType]
	return ok
}
