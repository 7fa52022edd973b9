// Command podstage stages, validates and deploys quadlet unit-sets.
package main

import (
	"github.com/podstage/podstage/cmd"
)

func main() {
	cmd.Execute()
}
