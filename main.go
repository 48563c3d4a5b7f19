package main

import (
	"github.com/campushall/campusbot/cmd"
)

func main() {
	cmd.Execute()
}
