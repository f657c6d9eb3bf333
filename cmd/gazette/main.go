// Command gazette scrapes gazette records and delivers them downstream.
package main

import "github.com/JakeFAU/gazette-ingest/cmd"

func main() {
	cmd.Execute()
}
