// Package version reports the identity of the running binary.
package version

// Release is the program release. The threaded build appends "T".
const Release = "1.3"

// Commit and Date are set at link time with -ldflags "-X".
var (
	Commit = "unknown"
	Date   = "unknown"
)

// Program returns the binary name for the compiled execution mode.
func Program() string {
	if Threaded {
		return "maxeth"
	}

	return "maxe"
}

// Mode returns "threaded" or "single".
func Mode() string {
	if Threaded {
		return "threaded"
	}

	return "single"
}

// Build returns the release string recorded in artifacts.
func Build() string {
	if Threaded {
		return Release + "T"
	}

	return Release
}

// String is the banner printed by the version command and at startup.
func String() string {
	if Threaded {
		return "threaded version " + Build()
	}

	return "version " + Build()
}
