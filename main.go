package main

import "github.com/jmehdipour/crm-gateway/cmd"

func main() {
	cmd.Execute()
}
