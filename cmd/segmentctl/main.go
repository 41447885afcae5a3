// Command segmentctl checks and evaluates segment rule trees offline.
//
//	segmentctl validate rules.json
//	segmentctl sql rules.json
//	segmentctl preview rules.json --customers customers.json
//	segmentctl translate "customers in India who spent over 5000"
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
