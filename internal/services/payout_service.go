package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
)

// PayoutMessageService builds the ISO 20022 messages exchanged with the
// external payout collaborator for bank-method withdrawals. The money
// movement itself happens outside this core; we only describe it.
type PayoutMessageService struct {
	config *config.PayoutConfig
}

func NewPayoutMessageService(cfg *config.PayoutConfig) *PayoutMessageService {
	return &PayoutMessageService{config: cfg}
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// one accepted withdrawal. The platform is the debtor; the user is the
// creditor. Destination account details stay opaque to this core.
func (ps *PayoutMessageService) CreatePacs008(w *models.Withdrawal) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(ps.config.Currency),
				Value: float64(w.Amount) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(w.ID)}[0],
					EndToEndId: common.Max35Text(w.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(ps.config.Currency),
					Value: float64(w.Amount) / 100,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(ps.config.PlatformBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("RupeeBack Rewards")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(string(w.Method)),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(w.UserID)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report for a settled or
// failed payout. Status is an external code such as ACSC or RJCT.
func (ps *PayoutMessageService) CreatePacs002(w *models.Withdrawal, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(w.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ToXML converts an ISO 20022 document to an XML string.
func (ps *PayoutMessageService) ToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// SendToPayoutPartner hands a message to the payout partner.
func (ps *PayoutMessageService) SendToPayoutPartner(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: deliver over the partner's API once credentials are provisioned
	log.Printf("[PAYOUT] Sending to payout partner: %s", string(xmlData))
	return nil
}
