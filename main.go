package main

import "github.com/example/latency-dashboard/internal/commands"

func main() {
	commands.Execute()
}
