package main

import "spineprod/cafledger/cmd"

func main() {
	cmd.Execute()
}
