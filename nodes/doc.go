// Package nodes provides a read-only view of the container orchestrator's
// nodes for the dashboard's GET /nodes route.
//
// Nodes are listed through the Kubernetes API. The result reflects the
// orchestrator's own bookkeeping and is independent of the coordinator's
// worker registry: a node may run no agent, and an agent may run outside
// the cluster.
//
// Example:
//
//	cs, err := nodes.NewClientset(os.Getenv("KUBECONFIG"))
//	lister := nodes.New(cs)
//	all, err := lister.List(ctx)
package nodes
