package directory

import (
	"sort"
	"time"
)

// Snapshot is an immutable, indexed view of directory contents. All
// queries treat "zero matches" as a meaningful outcome, never an error:
// callers get an empty result and apply their own fallback.
type Snapshot struct {
	contents Contents

	keysByResource  map[string][]APIKey
	keysByEnv       map[string][]APIKey
	principals      map[string]Principal
	connectors      map[string]Connector
	streamClusters  map[string]StreamCluster
	clusterEnvIndex map[string]string
}

// NewSnapshot indexes raw contents for the ownership queries.
func NewSnapshot(c Contents) *Snapshot {
	s := &Snapshot{
		contents:        c,
		keysByResource:  make(map[string][]APIKey),
		keysByEnv:       make(map[string][]APIKey),
		principals:      make(map[string]Principal, len(c.Principals)),
		connectors:      make(map[string]Connector, len(c.Connectors)),
		streamClusters:  make(map[string]StreamCluster, len(c.StreamClusters)),
		clusterEnvIndex: make(map[string]string, len(c.Clusters)),
	}
	for _, p := range c.Principals {
		s.principals[p.ID] = p
	}
	for _, cl := range c.Clusters {
		s.clusterEnvIndex[cl.ID] = cl.EnvironmentID
	}
	for _, k := range c.APIKeys {
		s.keysByResource[k.ResourceID] = append(s.keysByResource[k.ResourceID], k)
		if env, ok := s.clusterEnvIndex[k.ResourceID]; ok {
			s.keysByEnv[env] = append(s.keysByEnv[env], k)
		} else if k.ResourceType == ResourceSchemaRegistry {
			// Schema-registry keys carry the environment as their resource scope.
			s.keysByEnv[k.ResourceID] = append(s.keysByEnv[k.ResourceID], k)
		}
	}
	for _, cn := range c.Connectors {
		s.connectors[cn.ID] = cn
	}
	for _, sc := range c.StreamClusters {
		s.streamClusters[sc.ID] = sc
	}
	return s
}

// FetchedAt reports when the underlying listing was taken.
func (s *Snapshot) FetchedAt() time.Time {
	return s.contents.FetchedAt
}

// ActivePrincipalsForCluster returns the principals holding API keys on
// the cluster, with the number of keys each holds.
func (s *Snapshot) ActivePrincipalsForCluster(clusterID string) map[string]int {
	counts := make(map[string]int)
	for _, k := range s.keysByResource[clusterID] {
		if k.ResourceType != ResourceKafka {
			continue
		}
		counts[k.PrincipalID]++
	}
	return counts
}

// OwnerOfConnector resolves the single owning principal of a connector.
func (s *Snapshot) OwnerOfConnector(connectorID string) (string, bool) {
	cn, ok := s.connectors[connectorID]
	if !ok || cn.OwnerID == "" {
		return "", false
	}
	if _, known := s.principals[cn.OwnerID]; !known {
		return "", false
	}
	return cn.OwnerID, true
}

// OwnerOfStreamCluster resolves the single owning principal of a
// stream-processing cluster.
func (s *Snapshot) OwnerOfStreamCluster(streamClusterID string) (string, bool) {
	sc, ok := s.streamClusters[streamClusterID]
	if !ok || sc.OwnerID == "" {
		return "", false
	}
	if _, known := s.principals[sc.OwnerID]; !known {
		return "", false
	}
	return sc.OwnerID, true
}

// AllPrincipals returns every service account and user known to the
// organization, sorted for deterministic splits.
func (s *Snapshot) AllPrincipals() []string {
	ids := make([]string, 0, len(s.principals))
	for id := range s.principals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PrincipalsWithKeyInEnvironment returns principals holding any API key
// scoped to the environment, sorted.
func (s *Snapshot) PrincipalsWithKeyInEnvironment(environmentID string) []string {
	return s.distinctPrincipals(s.keysByEnv[environmentID], "")
}

// PrincipalsWithSchemaRegistryKey returns principals holding a
// schema-registry scoped key in the environment, sorted.
func (s *Snapshot) PrincipalsWithSchemaRegistryKey(environmentID string) []string {
	return s.distinctPrincipals(s.keysByEnv[environmentID], ResourceSchemaRegistry)
}

// EnvironmentOfCluster maps a cluster to its environment.
func (s *Snapshot) EnvironmentOfCluster(clusterID string) (string, bool) {
	env, ok := s.clusterEnvIndex[clusterID]
	return env, ok
}

func (s *Snapshot) distinctPrincipals(keys []APIKey, resourceType string) []string {
	seen := make(map[string]bool)
	for _, k := range keys {
		if resourceType != "" && k.ResourceType != resourceType {
			continue
		}
		seen[k.PrincipalID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
