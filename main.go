package main

import "github.com/kozaktomas/pixpursuit/cmd"

func main() {
	cmd.Execute()
}
