package main

import "runbot/cmd"

func main() {
	cmd.Execute()
}
