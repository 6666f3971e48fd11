// Package api exposes the settlement engine, the visibility views and the
// reward ledger over JSON HTTP. The caller's role and id come from a Bearer
// JWT; error codes map onto HTTP statuses in writeError.
package api
