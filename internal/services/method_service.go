package services

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
)

type PayoutMethod struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MinAmount   int64  `json:"minAmount"`
	MaxAmount   int64  `json:"maxAmount"`
	EtaHours    int    `json:"etaHours"`
	LogoData    string `json:"logoData"`
}

const (
	logosDir = "./static/method-logos"
	demoSVG  = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M100 60c-22.1 0-40 17.9-40 40s17.9 40 40 40 40-17.9 40-40-17.9-40-40-40zm0 65c-13.8 0-25-11.2-25-25s11.2-25 25-25 25 11.2 25 25-11.2 25-25 25z" fill="#999"/><text x="100" y="170" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">PAYOUT</text></svg>`
)

var methodLogos = map[string]string{
	string(models.MethodUPI):     "upi.svg",
	string(models.MethodBank):    "bank-transfer.svg",
	string(models.MethodPaytm):   "paytm.svg",
	string(models.MethodVoucher): "voucher.svg",
}

var payoutMethods = []PayoutMethod{
	{Code: string(models.MethodUPI), Name: "UPI", Description: "Instant transfer to any UPI ID", EtaHours: 1},
	{Code: string(models.MethodBank), Name: "Bank Transfer", Description: "NEFT/IMPS transfer to a bank account", EtaHours: 24},
	{Code: string(models.MethodPaytm), Name: "Paytm Wallet", Description: "Credit to a linked Paytm wallet", EtaHours: 4},
	{Code: string(models.MethodVoucher), Name: "Gift Voucher", Description: "Single-use voucher code with QR", EtaHours: 0},
}

// MethodService serves the catalogue of supported withdrawal methods to
// clients, with the current amount limits applied.
type MethodService struct {
	config *config.PayoutConfig
}

func NewMethodService(cfg *config.PayoutConfig) *MethodService {
	return &MethodService{config: cfg}
}

func (ms *MethodService) GetAllMethods(w http.ResponseWriter, r *http.Request) {
	methods := make([]PayoutMethod, len(payoutMethods))
	copy(methods, payoutMethods)

	for i := range methods {
		methods[i].MinAmount = ms.config.MinWithdrawal
		methods[i].MaxAmount = ms.config.MaxWithdrawal
		methods[i].LogoData = ms.LoadLogo(methods[i].Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(methods)
}

func (ms *MethodService) LoadLogo(code string) string {
	filename, ok := methodLogos[code]
	if !ok {
		return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(demoSVG))
	}

	path := filepath.Join(logosDir, filename)
	if data, err := os.ReadFile(path); err == nil {
		return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(data)
	}

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(demoSVG))
}
