package buildinfo

import "fmt"

var (
	// GitCommit is set with -ldflags at build time.
	GitCommit = "default-git-commit"
	// GitBranch is set with -ldflags at build time.
	GitBranch = "default-git-branch"
	// BuildDate is set with -ldflags at build time.
	BuildDate = "default-build-date"
	// Version is set with -ldflags at build time.
	Version = "default-version"
)

// Summary returns a summary of all build info.
func Summary() string {
	return fmt.Sprintf(
		"\tversion:\t%s\n\tbuild date:\t%s\n\tgit branch:\t%s\n\tgit commit:\t%s",
		Version,
		BuildDate,
		GitBranch,
		GitCommit,
	)
}
