// The main package for the seedcrawler executable.
package main

import (
	"github.com/JakeFAU/seedbank-crawler/cmd"
)

func main() {
	cmd.Execute()
}
