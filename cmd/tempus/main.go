// Command tempus runs the Tempus temporal knowledge graph: a bi-temporal
// store with preference tracking, a temporal item ledger, an append-only
// event log, recurrence detection, and context snapshot assembly.
package main

import (
	"log"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
