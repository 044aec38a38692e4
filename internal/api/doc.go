// Package api provides the release engine REST API: projects, deployments,
// regions, replication, usage, and the builder callback surface.
package api
