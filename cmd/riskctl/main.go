// Command riskctl inspects the risk engine's journal and published state
// and previews intents offline.
package main

import (
	"os"

	"trading-riskv1/cmd/riskctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
