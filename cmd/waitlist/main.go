package main

import "github.com/example/dinner-waitlist/cmd"

func main() {
	cmd.Execute()
}
