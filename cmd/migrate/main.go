// Command migrate applies the inkline schema migrations. It takes no flags:
// the connection string comes from DATABASE_URL or the built-in default.
package main

import "os"

func main() {
	if err := newRootCmd(connectPg).Execute(); err != nil {
		os.Exit(1)
	}
}
