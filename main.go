package main

import "github.com/nextlevelbuilder/jedisos/cmd"

func main() {
	cmd.Execute()
}
