// Command archive-crawler is the entry point for the crawler binaries.
package main

import "github.com/snapradar/archive-crawler/cmd"

func main() {
	cmd.Execute()
}
