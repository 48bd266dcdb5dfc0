// Package staging owns the scratch directories a prediction runs in.
//
// Dirs names the three process-owned locations (input staging, output
// staging and the server's temp output directory). Reset wipes and recreates
// them before every prediction so no files leak between runs. Stage places a
// single uploaded file into the input directory: tar and zip archives are
// extracted, images are copied as input.<ext>, and anything else is rejected
// before the filesystem is touched.
package staging
