// Package version reports the shell's build information.
package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Name      = "Stellar Shell"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is served on /api/v1/version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// ShortCommit returns at most the first seven characters of GitCommit.
func (i Info) ShortCommit() string {
	if len(i.GitCommit) > 7 {
		return i.GitCommit[:7]
	}
	return i.GitCommit
}

func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if c := i.ShortCommit(); c != "" {
		s += fmt.Sprintf(" (%s)", c)
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
