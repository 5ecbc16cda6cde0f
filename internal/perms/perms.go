// Package perms provides centralized file permission constants for
// consistent security practices across the echomcp codebase.
package perms

import "os"

// RegularFile permissions for standard files (configuration, logs, reports).
// Mode 0644: owner read/write, group read, others read.
const RegularFile os.FileMode = 0o644
