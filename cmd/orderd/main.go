package main

import (
	"log"

	"trustlink/services/orderd"
)

func main() {
	if err := orderd.Main(); err != nil {
		log.Fatalf("orderd: %v", err)
	}
}
