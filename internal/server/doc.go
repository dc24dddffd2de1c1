// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the origin registry that the proxy layer forwards through.
// It bootstraps Fiber with panic recovery and request ids, builds one
// http.Client per origin (manual redirects, optional dial override for the
// dynamic origin), and selects the edge cache backend from configuration.
// Diagnostics live under /-/ and are registered by the routes subpackage;
// keep exports narrow and accept explicit dependencies.
package server
