// Command scanner maps a web application's API surface: it crawls the
// site, infers endpoint templates from the observed traffic, and probes
// them with generated request variants.
package main

import "github.com/knowlet/scanner/cmd"

func main() {
	cmd.Execute()
}
