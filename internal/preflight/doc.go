// Package preflight provides readiness checks for the filesystem layout,
// the Python interpreter and the ComfyUI server that predictions depend on.
//
// These checks run in two contexts:
//   - The CLI "cogcomfy check" command renders every result as a table.
//   - "cogcomfy serve" runs them once before setup and logs failures so an
//     operator sees a missing checkout before the startup timeout expires.
//
// Checks never modify anything; scratch directories that do not exist yet
// pass when their parent is writable because a prediction creates them.
package preflight
