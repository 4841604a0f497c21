package tripay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signer produces and checks the HMAC-SHA256 signatures the gateway expects.
type Signer struct {
	privateKey   []byte
	merchantCode string
}

func NewSigner(privateKey string, merchantCode string) *Signer {
	return &Signer{
		privateKey:   []byte(privateKey),
		merchantCode: merchantCode,
	}
}

// Sign returns the hex HMAC-SHA256 digest of data
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.privateKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// TransactionSignature signs a transaction-create request.
// The documented contract is merchant_code + merchant_ref + amount, with the
// amount rendered as an integer. This is the only signing format in use.
func (s *Signer) TransactionSignature(merchantRef string, amount int64) string {
	return s.Sign([]byte(s.merchantCode + merchantRef + strconv.FormatInt(amount, 10)))
}

// VerifyCallback checks the signature the gateway sent with a callback.
// It must run over the raw body bytes exactly as received: the gateway signs
// its own serialization, and re-encoding the payload would change the bytes.
// Comparison is constant time and accepts upper or lower case hex.
func (s *Signer) VerifyCallback(rawBody []byte, provided string) bool {
	providedMAC, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.privateKey)
	mac.Write(rawBody)

	return hmac.Equal(mac.Sum(nil), providedMAC)
}
