package version

var (
	// Version is the release tag of the lavareport binary, set through -ldflags.
	Version = "dev"
	// Commit is the source revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build time in RFC3339.
	BuildDate = "unknown"
)

// String renders the build information on a single line.
func String() string {
	return "lavareport " + Version + " (" + Commit + ", built " + BuildDate + ")"
}
