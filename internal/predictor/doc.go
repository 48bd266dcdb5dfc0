// Package predictor runs predictions end to end: it owns the scratch
// directories, the ComfyUI server and client, and sequences staging,
// workflow preparation, execution and output collection for each request.
//
// One Predictor serves one prediction at a time. A file lock keeps a second
// process on the same host from driving the same server.
package predictor
