package main

import "watchtrackd/cmd"

func main() {
	cmd.Execute()
}
