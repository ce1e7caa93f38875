package main

import "github.com/andresmejia3/barpath/cmd"

func main() {
	cmd.Execute()
}
