// Artifetch fetches build artifacts from build servers.
//
// Artifacts are listed in a dependency descriptor, resolved into a manifest of download and
// extract jobs and then run in two waves: every download, then every extraction.
package main

import (
	"github.com/opnlabs/artifetch/cmd/artifetch"
)

func main() {
	artifetch.Execute()
}
