// Package cli implements the client side of the caravel command line: an
// HTTP client for the server API, table rendering for status, history and
// event listings, and the progress spinner shown while a release runs.
//
// Error types here carry the semantics the cmd package turns into exit
// codes: ConnectionError means the server is unreachable, APIError carries
// the server's HTTP status and message.
package cli
