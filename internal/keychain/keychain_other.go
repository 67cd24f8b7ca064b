//go:build !darwin

package keychain

// NewSystemStore returns a FileStore at fallbackPath on non-darwin platforms.
// The macOS Keychain is not available outside of macOS; values are kept in a
// 0600 JSON file instead.
func NewSystemStore(fallbackPath string) (Store, error) {
	return NewFileStore(fallbackPath)
}
