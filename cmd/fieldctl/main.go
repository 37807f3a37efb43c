package main

import (
	"log"

	"github.com/austindbirch/fieldsync/cmd/fieldctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
