package main

import "sknet/commands"

func main() {
	commands.Execute()
}
