// Package ops exposes the operational HTTP surface for a running deployment.
//
// The router is read-mostly: queue depth, dead-letter inspection, circuit
// breaker state, and credential health. The few mutations it offers are
// operator actions, not user features: pausing or resuming a queue,
// requeuing a dead task, and forcing a breaker closed after a platform
// incident is resolved.
//
// Every surface is optional. Pass only the components the deployment runs
// and the router mounts only those routes, following the same pattern the
// rest of the module tree uses for composing services.
//
// The router carries no authentication. Mount it behind whatever access
// control the deployment already has for internal endpoints.
package ops
