// Package openapi ingests remote OpenAPI 3.x documents.
//
// A reference goes through four stages, each failing fast with a single
// *Error kind:
//
//	Sanitize  admission control against SSRF targets (no network I/O)
//	Probe     HEAD request, advisory Content-Length ceiling
//	Download  GET streamed to temp storage through a byte counter
//	Validate  kin-openapi load, $ref resolution, 3.x dialect gate
//
// Ingest composes them. On success the caller owns the artifact and must
// call Release; on any failure nothing is left on disk.
//
// Admission checks literal hosts only. A DNS name that resolves to a private
// address passes Sanitize; blocking it is the job of the egress guard in
// internal/httpclient, which vets resolved addresses at dial time.
package openapi
