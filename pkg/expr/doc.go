// Package expr evaluates CEL (Common Expression Language) filters against
// file system events.
//
// Filters have access to the variables:
//   - `file` (string): absolute path of the changed file
//   - `fs.event` (int): the event flags, see the `fs.*` constants
//   - `task` (string): name of the task the event belongs to
//
// In addition to the CEL standard library and the math, strings and lists
// extensions, the environment provides:
//   - `ev.has(flag, ...)`: whether the event has any of the given flags
//   - `pathBase`, `pathDir`, `pathExt`: file path helpers
//   - `yamlPath(file, path)`: a value read from a YAML file, or null
package expr
