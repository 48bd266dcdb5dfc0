// Package comfyui drives an external ComfyUI server: launching it as a child
// process, waiting for readiness, queueing workflows over HTTP and following
// their execution over the server's WebSocket.
package comfyui
