// ripcord is the failover orchestration CLI. It admits recovery plans,
// launches wave executions, and runs the reconciliation loop that converges
// execution state with the recovery service.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
