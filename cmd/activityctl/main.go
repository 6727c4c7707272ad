package main

import (
	"log"

	"github.com/austindbirch/activitylogger/cmd/activityctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
