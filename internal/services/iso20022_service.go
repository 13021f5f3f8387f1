package services

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// ISO20022Settler settles transfers by posting a pacs.008 credit transfer to
// a clearing endpoint and reading the pacs.002 status report it answers with.
type ISO20022Settler struct {
	endpoint string
	agentBIC string
	decimals int
	client   *http.Client
	signer   MessageSigner
	now      func() time.Time
}

// MessageSigner signs outgoing settlement messages. It returns the signing
// key id with the signature.
type MessageSigner interface {
	Sign(data []byte) (string, string, error)
}

const (
	SignatureHeader      = "X-Signature"
	SignatureKeyIDHeader = "X-Signature-Key-Id"
)

func NewISO20022Settler(endpoint, agentBIC string, decimals int, timeout time.Duration) *ISO20022Settler {
	return &ISO20022Settler{
		endpoint: endpoint,
		agentBIC: agentBIC,
		decimals: decimals,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// SetSigner makes every pacs.008 carry a detached signature over its body.
func (s *ISO20022Settler) SetSigner(signer MessageSigner) {
	s.signer = signer
}

// statusCodes maps pacs.002 transaction statuses onto settlement result codes.
var statusCodes = map[string]uint8{
	"ACSC": SettlementSettled,
	"ACCP": SettlementAccepted,
	"ACSP": SettlementInFlight,
	"PDNG": SettlementPending,
	"RJCT": SettlementRejected,
}

func (s *ISO20022Settler) Transfer(ctx context.Context, order TransferOrder) (uint8, error) {
	doc := s.CreatePacs008(order)

	xmlData, err := ConvertToXML(doc)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(xmlData))
	if err != nil {
		return 0, fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if s.signer != nil {
		keyID, signature, err := s.signer.Sign([]byte(xmlData))
		if err != nil {
			return 0, fmt.Errorf("sign settlement request: %w", err)
		}
		req.Header.Set(SignatureKeyIDHeader, keyID)
		req.Header.Set(SignatureHeader, signature)
	}

	log.Printf("[SETTLEMENT] Sending pacs.008 %s for %s to %s", doc.GrpHdr.MsgId, order.Amount, order.Destination)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("settlement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("settlement returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1_048_576))
	if err != nil {
		return 0, fmt.Errorf("read settlement response: %w", err)
	}

	status, err := ParseTransactionStatus(body)
	if err != nil {
		return 0, err
	}

	code, ok := statusCodes[status]
	if !ok {
		return 0, fmt.Errorf("unknown transaction status %q", status)
	}
	log.Printf("[SETTLEMENT] pacs.002 status %s (code %d) for %s", status, code, doc.GrpHdr.MsgId)
	return code, nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for a
// single transfer out of the ledger.
func (s *ISO20022Settler) CreatePacs008(order TransferOrder) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgId := uuid.New().String()
	txId := uuid.New().String()
	creDtTm := s.now()
	settlementDate := creDtTm
	value := order.Amount.Major(s.decimals)

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(order.Denomination),
				Value: value,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(txId)}[0],
					EndToEndId: common.Max35Text(msgId),
					TxId:       &[]common.Max35Text{common.Max35Text(txId)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(order.Denomination),
					Value: value,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.agentBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(order.LedgerID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.agentBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(order.Destination)}[0],
				},
			},
		},
	}
}

// CreatePacs002 creates a pacs.002 payment status report. Clearing endpoints
// answer a pacs.008 with one of these.
func CreatePacs002(originalMsgID, status string) *pacs_v08.FIToFIPaymentStatusReportV08 {
	msgId := uuid.New().String()

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(originalMsgID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}
}

// ParseTransactionStatus extracts the first TxSts of a pacs.002 report.
func ParseTransactionStatus(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("pacs.002 has no transaction status")
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse pacs.002: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "TxSts" {
			continue
		}
		var status string
		if err := dec.DecodeElement(&status, &start); err != nil {
			return "", fmt.Errorf("failed to parse pacs.002: %w", err)
		}
		return strings.TrimSpace(status), nil
	}
}

// ConvertToXML converts ISO20022 document to XML string
func ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
