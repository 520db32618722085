/*
Package types defines the core data structures used throughout Grove.

This package contains all fundamental types that represent Grove's domain
model: clusters, nodes, profiles, policies, policy bindings, actions,
locks, health registries and events. These types are used by all other
packages for persistence, API responses and orchestration logic.

Records are plain structs serialized as JSON by the storage layer and by
the REST API. Status enums are typed strings with const blocks so that
invalid values are visible at a glance in logs and stored records.
*/
package types
