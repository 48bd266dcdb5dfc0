// Package outputs gathers the files a workflow produced and optionally
// re-encodes raster images as WebP.
package outputs
