package main

import "github.com/homefix/marketplace-api/cmd"

func main() {
	cmd.Execute()
}
