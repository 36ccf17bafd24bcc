// Command riya runs the cognitive memory and proactive engagement engine.
//
// The serve command starts the HTTP API, the analysis workers and the
// engagement scheduler. The remaining commands run one pass of a single
// task against the configured store and exit, which suits cron-driven
// deployments that keep the scheduler disabled.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
