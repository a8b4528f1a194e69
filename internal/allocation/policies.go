package allocation

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cloud-chargeback/internal/billing"
	"cloud-chargeback/internal/usage"
	cberrors "cloud-chargeback/pkg/errors"
)

// Product types with registered policies.
const (
	ProductKafkaBase         = "KafkaBase"
	ProductKafkaStorage      = "KafkaStorage"
	ProductKafkaPartition    = "KafkaPartition"
	ProductKafkaNetworkRead  = "KafkaNetworkRead"
	ProductKafkaNetworkWrite = "KafkaNetworkWrite"
	ProductKafkaNumCKU       = "KafkaNumCKU"
	ProductConnectTask       = "ConnectTask"
	ProductStreamCSU         = "StreamCSU"
	ProductAuditLogRead      = "AuditLogRead"
	ProductSchemaRegistry    = "SchemaRegistry"
	ProductGovernanceBase    = "GovernanceBase"
	ProductClusterLink       = "ClusterLink"
)

// commonChargeRatio is the capacity-unit common tier: 30% of cost is
// split evenly across key-holding principals, the remaining 70% by
// usage ratio.
var commonChargeRatio = decimal.NewFromFloat(0.3)

// NewDefaultRegistry binds every known product type to its policy.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)

	r.Register(ProductKafkaBase, EqualSplitByActivePrincipal)
	r.Register(ProductKafkaStorage, EqualSplitByActivePrincipal)
	r.Register(ProductKafkaPartition, EqualSplitByActivePrincipal)

	r.Register(ProductKafkaNetworkRead, RatioByConsumption(usage.MetricResponseBytes))
	r.Register(ProductKafkaNetworkWrite, RatioByConsumption(usage.MetricRequestBytes))

	r.Register(ProductKafkaNumCKU, CapacityUnit)

	r.Register(ProductConnectTask, SingleOwner(ConnectorOwner))
	r.Register(ProductStreamCSU, SingleOwner(StreamClusterOwner))
	r.Register(ProductAuditLogRead, SingleOwner(SoleClusterPrincipal))

	r.Register(ProductSchemaRegistry, EnvironmentFallback)
	r.Register(ProductGovernanceBase, EnvironmentFallback)

	r.Register(ProductClusterLink, DirectToResource)

	return r
}

// EqualSplitByActivePrincipal splits the cost evenly, as shared cost,
// across the principals holding API keys on the cluster. With no such
// principals the full cost goes to the cluster id as shared cost;
// unrelated principals elsewhere in the org never absorb it.
func EqualSplitByActivePrincipal(pc *Context, item billing.LineItem) []Contribution {
	principals := sortedPrincipals(pc.Directory.ActivePrincipalsForCluster(item.ClusterID))
	if len(principals) == 0 {
		return resourceShared(item.ClusterID, item.Cost)
	}
	return sharedContribs(principals, splitEven(item.Cost, len(principals)))
}

// RatioByConsumption builds a policy that splits cost as usage cost in
// proportion to each principal's positive consumption of the given
// metrics at the item's hour and cluster. With no positive samples the
// cost falls back to the cluster as shared cost.
func RatioByConsumption(metrics ...string) Policy {
	return func(pc *Context, item billing.LineItem) []Contribution {
		ids, weights := consumptionWeights(pc, item.TimeSlice, item.ClusterID, metrics...)
		if len(ids) == 0 {
			return resourceShared(item.ClusterID, item.Cost)
		}
		return usageContribs(ids, splitByWeight(item.Cost, weights))
	}
}

// CapacityUnit is the two-tier capacity-unit split: 30% common charge
// split evenly across key-holding principals (or the cluster if none),
// 70% usage charge split by combined request+response byte ratio (or
// evenly across the same principal set without samples, or to the
// cluster when neither exists).
func CapacityUnit(pc *Context, item billing.LineItem) []Contribution {
	common := item.Cost.Mul(commonChargeRatio)
	usageTier := item.Cost.Sub(common)

	principals := sortedPrincipals(pc.Directory.ActivePrincipalsForCluster(item.ClusterID))

	var contribs []Contribution
	if len(principals) == 0 {
		contribs = append(contribs, resourceShared(item.ClusterID, common)...)
	} else {
		contribs = append(contribs, sharedContribs(principals, splitEven(common, len(principals)))...)
	}

	ids, weights := consumptionWeights(pc, item.TimeSlice, item.ClusterID,
		usage.MetricRequestBytes, usage.MetricResponseBytes)
	switch {
	case len(ids) > 0:
		contribs = append(contribs, usageContribs(ids, splitByWeight(usageTier, weights))...)
	case len(principals) > 0:
		contribs = append(contribs, sharedContribs(principals, splitEven(usageTier, len(principals)))...)
	default:
		contribs = append(contribs, resourceShared(item.ClusterID, usageTier)...)
	}
	return contribs
}

// OwnerResolver resolves the single owning principal for a line item's
// resource. ok=false is a meaningful outcome, not an error.
type OwnerResolver func(pc *Context, item billing.LineItem) (string, bool)

// ConnectorOwner resolves the connector's owner; the line item's
// cluster id carries the connector id for connector products.
func ConnectorOwner(pc *Context, item billing.LineItem) (string, bool) {
	return pc.Directory.OwnerOfConnector(item.ClusterID)
}

// StreamClusterOwner resolves the stream-processing cluster's owner.
func StreamClusterOwner(pc *Context, item billing.LineItem) (string, bool) {
	return pc.Directory.OwnerOfStreamCluster(item.ClusterID)
}

// SoleClusterPrincipal resolves only when exactly one principal holds
// keys on the cluster. Used for products with a degenerate one-identity
// audience, like audit-log delivery.
func SoleClusterPrincipal(pc *Context, item billing.LineItem) (string, bool) {
	principals := sortedPrincipals(pc.Directory.ActivePrincipalsForCluster(item.ClusterID))
	if len(principals) != 1 {
		return "", false
	}
	return principals[0], true
}

// SingleOwner builds a policy attributing the full cost to the resolved
// owner as usage cost. An unresolved owner logs a warning and charges
// the resource id as shared cost; it never fails the row.
func SingleOwner(resolve OwnerResolver) Policy {
	return func(pc *Context, item billing.LineItem) []Contribution {
		if owner, ok := resolve(pc, item); ok {
			return []Contribution{{Principal: owner, UsageDelta: item.Cost}}
		}
		pc.Logger.Warn("no owning principal resolvable, attributing to resource",
			"resource", item.ClusterID, "product_type", item.ProductType,
			"error", cberrors.NewMissingOwnership(item.ClusterID))
		return resourceShared(item.ClusterID, item.Cost)
	}
}

// EnvironmentFallback walks an ordered tier chain and splits the cost
// evenly, as shared cost, over the first non-empty tier: principals
// with schema-registry keys in the environment, then any principal with
// a key in the environment, then every principal in the org, then the
// cluster id.
func EnvironmentFallback(pc *Context, item billing.LineItem) []Contribution {
	tiers := [][]string{
		pc.Directory.PrincipalsWithSchemaRegistryKey(item.EnvironmentID),
		pc.Directory.PrincipalsWithKeyInEnvironment(item.EnvironmentID),
		pc.Directory.AllPrincipals(),
	}
	for _, tier := range tiers {
		if len(tier) > 0 {
			return sharedContribs(tier, splitEven(item.Cost, len(tier)))
		}
	}
	return resourceShared(item.ClusterID, item.Cost)
}

// DirectToResource charges the full cost to the cluster/resource id as
// shared cost with no split. Also the registry fallback for unknown
// product types.
func DirectToResource(pc *Context, item billing.LineItem) []Contribution {
	return resourceShared(item.ClusterID, item.Cost)
}

// =============================================================================
// SPLIT HELPERS
// =============================================================================

// splitEven divides total into n equal shares that sum to total
// exactly; any division remainder lands on the first share.
func splitEven(total decimal.Decimal, n int) []decimal.Decimal {
	per := total.Div(decimal.NewFromInt(int64(n)))
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = per
	}
	distributeRemainder(total, shares)
	return shares
}

// splitByWeight divides total proportionally to weights, exact in sum.
func splitByWeight(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	shares := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		shares[i] = total.Mul(w).Div(sum)
	}
	distributeRemainder(total, shares)
	return shares
}

// distributeRemainder folds the difference between total and the share
// sum into the largest share, keeping every share non-negative.
func distributeRemainder(total decimal.Decimal, shares []decimal.Decimal) {
	if len(shares) == 0 {
		return
	}
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s)
	}
	diff := total.Sub(sum)
	if diff.IsZero() {
		return
	}
	maxIdx := 0
	for i, s := range shares {
		if s.GreaterThan(shares[maxIdx]) {
			maxIdx = i
		}
	}
	shares[maxIdx] = shares[maxIdx].Add(diff)
}

// consumptionWeights sums positive samples of the given metrics per
// principal at (slice, cluster), returning sorted principal ids and
// aligned weights.
func consumptionWeights(pc *Context, slice time.Time, clusterID string, metrics ...string) ([]string, []decimal.Decimal) {
	wanted := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		wanted[m] = true
	}

	byPrincipal := make(map[string]decimal.Decimal)
	for _, s := range pc.Usage.SamplesFor(slice, clusterID) {
		if !wanted[s.Metric] || !s.Value.IsPositive() {
			continue
		}
		byPrincipal[s.PrincipalID] = byPrincipal[s.PrincipalID].Add(s.Value)
	}

	ids := make([]string, 0, len(byPrincipal))
	for id := range byPrincipal {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	weights := make([]decimal.Decimal, len(ids))
	for i, id := range ids {
		weights[i] = byPrincipal[id]
	}
	return ids, weights
}

func sortedPrincipals(counts map[string]int) []string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sharedContribs(ids []string, shares []decimal.Decimal) []Contribution {
	out := make([]Contribution, len(ids))
	for i, id := range ids {
		out[i] = Contribution{Principal: id, SharedDelta: shares[i]}
	}
	return out
}

func usageContribs(ids []string, shares []decimal.Decimal) []Contribution {
	out := make([]Contribution, len(ids))
	for i, id := range ids {
		out[i] = Contribution{Principal: id, UsageDelta: shares[i]}
	}
	return out
}

func resourceShared(resourceID string, cost decimal.Decimal) []Contribution {
	return []Contribution{{Principal: resourceID, SharedDelta: cost}}
}
