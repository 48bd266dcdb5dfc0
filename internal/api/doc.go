// Package api exposes the predictor over HTTP using Cog-style wire types.
//
// # Endpoints
//
// GET /health-check: readiness of the predictor and the ComfyUI server.
//
// GET /status: predictor counters, scratch directory usage and the outcome of
// checkpoint relocation.
//
// POST /predictions: runs one prediction. The body is {"input": {...}} with
// the snake_case field names of PredictionInput; omitted fields take the
// configured defaults.
//
// # Design Notes
//
// input_file may be a local path, an http(s) URL or a data URI. Remote and
// inline files are materialised into a temporary file that keeps the original
// extension so the stager can classify them.
//
// Failed predictions answer 422 when the caller's input was at fault and 500
// otherwise; the body always carries status and error.
package api
