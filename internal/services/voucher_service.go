package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
	"github.com/skip2/go-qrcode"
)

// Voucher is a single-use redeemable code issued when a voucher-method
// withdrawal settles.
type Voucher struct {
	Code         string    `json:"code"`
	WithdrawalID string    `json:"withdrawalId"`
	UserID       string    `json:"userId"`
	Amount       int64     `json:"amount"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	QRImage      string    `json:"qrImage,omitempty"` // base64 PNG
}

type VoucherService struct {
	redis  *redis.Client
	config *config.PayoutConfig
}

func NewVoucherService(redisClient *redis.Client, cfg *config.PayoutConfig) *VoucherService {
	return &VoucherService{
		redis:  redisClient,
		config: cfg,
	}
}

// Issue creates and stores a voucher for a settled withdrawal, along with a
// QR rendering of the code.
func (s *VoucherService) Issue(ctx context.Context, w *models.Withdrawal) (*Voucher, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("voucher store unavailable")
	}

	now := time.Now()
	voucher := Voucher{
		Code:         s.generateCode(),
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Amount:       w.Amount,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.config.VoucherTTL),
	}

	data, err := json.Marshal(voucher)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("voucher:%s", voucher.Code)
	if err := s.redis.Set(ctx, key, data, s.config.VoucherTTL).Err(); err != nil {
		return nil, err
	}

	qr, err := qrcode.New(voucher.Code, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}
	voucher.QRImage = base64.StdEncoding.EncodeToString(buf.Bytes())

	return &voucher, nil
}

// Redeem validates and consumes a voucher code. A code can be redeemed once.
func (s *VoucherService) Redeem(ctx context.Context, code string) (*Voucher, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("voucher store unavailable")
	}

	// GETDEL reads and consumes in one step, so concurrent redemptions of
	// the same code cannot both see the value.
	key := fmt.Sprintf("voucher:%s", code)
	data, err := s.redis.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired voucher")
	}
	if err != nil {
		return nil, err
	}

	var voucher Voucher
	if err := json.Unmarshal(data, &voucher); err != nil {
		return nil, err
	}

	return &voucher, nil
}

func (s *VoucherService) generateCode() string {
	b := make([]byte, 20)
	rand.Read(b)
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	if len(code) > s.config.VoucherCodeLength {
		code = code[:s.config.VoucherCodeLength]
	}
	return code
}
