package main

import (
	"log"
	"os"
)

func main() {
	log.SetPrefix("mediavault: ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile | log.Lmsgprefix)

	if err := newRootCmd().Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
