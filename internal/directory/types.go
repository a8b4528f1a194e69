// Package directory maintains a read-only snapshot of cloud resource
// ownership: which principals hold API keys on which clusters, who owns
// connectors and stream-processing clusters, and the full principal roster.
package directory

import "time"

// PrincipalKind distinguishes the two identity types that can absorb cost.
type PrincipalKind string

const (
	KindServiceAccount PrincipalKind = "service-account"
	KindUser           PrincipalKind = "user"
)

// Principal is an identity costs can be charged to.
type Principal struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Kind PrincipalKind `json:"kind"`
}

// Environment groups clusters and scopes schema-registry resources.
type Environment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Cluster is a billable compute cluster inside an environment.
type Cluster struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EnvironmentID string `json:"environment_id"`
}

// APIKey ties a principal to a resource. ResourceType tells which kind
// of resource the key is scoped to.
type APIKey struct {
	Key          string `json:"key"`
	PrincipalID  string `json:"principal_id"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"` // kafka, schema-registry, cloud
}

const (
	ResourceKafka          = "kafka"
	ResourceSchemaRegistry = "schema-registry"
)

// Connector is owned by exactly one principal.
type Connector struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ClusterID     string `json:"cluster_id"`
	EnvironmentID string `json:"environment_id"`
	OwnerID       string `json:"owner_id"`
}

// StreamCluster is a stream-processing compute pool with a single owner.
type StreamCluster struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EnvironmentID string `json:"environment_id"`
	OwnerID       string `json:"owner_id"`
}

// Contents is the raw directory listing a Loader produces.
type Contents struct {
	Environments   []Environment
	Clusters       []Cluster
	Principals     []Principal
	APIKeys        []APIKey
	Connectors     []Connector
	StreamClusters []StreamCluster
	FetchedAt      time.Time
}
