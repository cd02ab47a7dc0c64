//go:build !threads

package version

// Threaded reports whether the binary was built with -tags threads.
const Threaded = false
