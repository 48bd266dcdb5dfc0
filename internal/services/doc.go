// Package services defines shared helpers consumed by the prediction stages
// and the external server client.
//
// Key responsibilities:
//   - Context helpers that stamp prediction IDs and stage names for logging.
//   - Sentinel error markers plus the Wrap helper so callers can tell input
//     errors (unsupported file, malformed workflow) from external server
//     failures with errors.Is.
package services
