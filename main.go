package main

import "github.com/kebairia/borgreport/cmd"

func main() {
	cmd.Execute()
}
