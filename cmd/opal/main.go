// Binary opal is the coding-agent runtime's command line front end.
//
// Usage:
//
//	opal [flags]            start an interactive session
//	opal -p "prompt"        run one prompt and exit
//	opal sessions           list recent sessions
//	opal models             list known models
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
