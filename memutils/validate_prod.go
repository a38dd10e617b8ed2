//go:build !debug_osheap

package memutils

// DebugValidate will call Validate on the provided object and panics if any errors
// are returned. This method no-ops unless the debug_osheap build tag is present.
func DebugValidate(validatable Validatable) {
}
