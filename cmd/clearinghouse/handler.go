package main

import (
	"encoding/xml"
	"io"
	"log"
	"net/http"

	"github.com/openbank/ledger/internal/services"
)

type groupHeader struct {
	MsgID string `xml:"GrpHdr>MsgId"`
}

func newHandler(status string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1_048_576))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var hdr groupHeader
		if err := xml.Unmarshal(body, &hdr); err != nil || hdr.MsgID == "" {
			http.Error(w, "expected a pacs.008 document", http.StatusBadRequest)
			return
		}

		if keyID := r.Header.Get(services.SignatureKeyIDHeader); keyID != "" {
			log.Printf("pacs.008 %s signed with key %s", hdr.MsgID, keyID)
		}

		report, err := services.ConvertToXML(services.CreatePacs002(hdr.MsgID, status))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		log.Printf("pacs.008 %s -> %s", hdr.MsgID, status)
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(report))
	})
}
