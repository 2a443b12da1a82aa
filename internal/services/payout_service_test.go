package services

import (
	"testing"
	"time"

	"github.com/moov-io/iso20022/pkg/common"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func testPayoutService() *PayoutMessageService {
	return NewPayoutMessageService(&config.PayoutConfig{
		Currency:    "INR",
		PlatformBIC: "RUPEBACK",
	})
}

func TestPayoutMessageService_CreatePacs008(t *testing.T) {
	service := testPayoutService()

	w := &models.Withdrawal{
		ID:        "wd-123",
		UserID:    "user1",
		Amount:    123456, // paise
		Method:    models.MethodBank,
		Status:    models.WithdrawalPending,
		CreatedAt: time.Now(),
	}

	doc, err := service.CreatePacs008(w)
	assert.NoError(t, err)
	assert.NotEmpty(t, doc.GrpHdr.MsgId)
	assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
	assert.Equal(t, common.ActiveCurrencyCode("INR"), doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy)
	assert.Equal(t, 1234.56, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)

	assert.Len(t, doc.CdtTrfTxInf, 1)
	txInf := doc.CdtTrfTxInf[0]
	assert.Equal(t, common.Max35Text("wd-123"), txInf.PmtId.EndToEndId)
	assert.Equal(t, 1234.56, txInf.IntrBkSttlmAmt.Value)
	assert.Equal(t, common.BICFIDec2014Identifier("RUPEBACK"), *txInf.DbtrAgt.FinInstnId.BICFI)
	assert.Equal(t, common.Max140Text("user1"), *txInf.Cdtr.Nm)
}

func TestPayoutMessageService_CreatePacs002(t *testing.T) {
	service := testPayoutService()

	w := &models.Withdrawal{
		ID:     "wd-123",
		UserID: "user1",
		Amount: 1000,
		Method: models.MethodBank,
		Status: models.WithdrawalCompleted,
	}

	doc, err := service.CreatePacs002(w, "ACSC")
	assert.NoError(t, err)
	assert.NotEmpty(t, doc.GrpHdr.MsgId)
	assert.Len(t, doc.TxInfAndSts, 1)
	assert.Equal(t, common.Max35Text("wd-123"), *doc.TxInfAndSts[0].OrgnlEndToEndId)
	assert.Equal(t, "ACSC", string(*doc.TxInfAndSts[0].TxSts))
}

func TestPayoutMessageService_ToXML(t *testing.T) {
	service := testPayoutService()

	w := &models.Withdrawal{
		ID:     "wd-123",
		UserID: "user1",
		Amount: 1000,
		Method: models.MethodBank,
	}

	doc, err := service.CreatePacs008(w)
	assert.NoError(t, err)

	xmlData, err := service.ToXML(doc)
	assert.NoError(t, err)
	assert.Contains(t, xmlData, "<?xml")
	assert.Contains(t, xmlData, "wd-123")
	assert.Contains(t, xmlData, "INR")
}
