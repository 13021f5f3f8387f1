// Command clearinghouse is a local stand-in for the settlement endpoint. It
// accepts pacs.008 credit transfers and answers each with a pacs.002 status
// report, so settlement.url can point at it during development.
package main

import (
	"flag"
	"log"
	"net/http"
)

func main() {
	addr := flag.String("addr", ":8082", "listen address")
	status := flag.String("status", "ACSC", "pacs.002 transaction status to answer with")
	flag.Parse()

	log.Printf("Clearing house stub answering %s on %s", *status, *addr)
	if err := http.ListenAndServe(*addr, newHandler(*status)); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
