package main

import "trackwise/cmd/cli"

func main() {
	cli.Execute()
}
