package main

import "github.com/campuskit/sage/cmd"

func main() {
	cmd.Execute()
}
