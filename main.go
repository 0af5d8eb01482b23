// Command crawld ingests web content into directory-backed repositories.
package main

import (
	"github.com/truesight/crawld/cmd"
)

func main() {
	cmd.Execute()
}
