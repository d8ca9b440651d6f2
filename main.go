package main

import "github.com/vkadlec/species-curator/cmd"

func main() {
	cmd.Execute()
}
