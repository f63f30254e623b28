package main

import "github.com/hmcelik/aegis-moderation/cmd/aegis/cmd"

func main() {
	cmd.Execute()
}
