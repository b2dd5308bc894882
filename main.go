package main

import (
	"videocap/cmd/videocap/commands"
)

func main() {
	commands.Execute()
}
