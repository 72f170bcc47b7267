package module

import "fmt"

// CoreModules are the names that resolve without a filesystem lookup.
var CoreModules = []string{"buffer", "constants", "events", "http", "path", "stream", "util", "fs"}

// CoreDir is where the real sources behind core-module shims live.
const CoreDir = "/core_modules"

// shimSource is the pre-seeded source for a core module.
func shimSource(name string) string {
	return fmt.Sprintf("module.exports = require(%q);", CoreDir+"/"+name)
}
