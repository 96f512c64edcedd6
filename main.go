package main

import "github.com/cartopack/kmztiler/cmd"

func main() {
	cmd.Execute()
}
