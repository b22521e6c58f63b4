package main

import "github.com/jimfengnpu/everywhere/cmd/everywhere/commands"

func main() {
	commands.Execute()
}
