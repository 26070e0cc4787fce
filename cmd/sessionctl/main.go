// Command sessionctl is a demo CLI over the pqsession engine: init a
// device, send a message, pump the job queue against a relay, and inspect
// resolved identities.
package main

import (
	"fmt"
	"os"

	"pqsession/cmd/sessionctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
