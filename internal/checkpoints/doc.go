// Package checkpoints moves model weights from the image's download location
// into the ComfyUI tree before the server starts.
//
// Relocation is idempotent: a source that is already gone or a target that is
// already populated counts as migrated. Real failures are collected and
// logged but never stop the server from starting.
package checkpoints
