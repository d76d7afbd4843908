// Package auth verifies EIP-191 personal-sign signatures on mutating
// requests. Mutations carry either a signature over a canonical message or an
// active session key; requests with neither fail closed at the service layer.
package auth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/alpaca-lotto/internal/errors"
)

// Verifier recovers the signer of an EIP-191 message and compares it to the
// claimed address.
type Verifier struct{}

// NewVerifier creates a new signature verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Canonical messages. The front-end signs exactly these strings; addresses
// are lowercased so wallet checksum casing cannot break agreement.

// PurchaseMessage is the message signed to authorize a ticket purchase
func PurchaseMessage(lotteryID int64, buyer string, ticketCount int) string {
	return fmt.Sprintf("AlpacaLotto purchase: lottery %d, tickets %d, buyer %s",
		lotteryID, ticketCount, strings.ToLower(buyer))
}

// ClaimMessage is the message signed to authorize a prize claim
func ClaimMessage(lotteryID int64, winner string) string {
	return fmt.Sprintf("AlpacaLotto claim: lottery %d, winner %s",
		lotteryID, strings.ToLower(winner))
}

// SessionCreateMessage is the message signed to authorize session key creation
func SessionCreateMessage(owner string, durationSeconds int64) string {
	return fmt.Sprintf("AlpacaLotto session: owner %s, duration %d",
		strings.ToLower(owner), durationSeconds)
}

// SessionRevokeMessage is the message signed to authorize session key revocation
func SessionRevokeMessage(owner string, keyID string) string {
	return fmt.Sprintf("AlpacaLotto revoke session: owner %s, key %s",
		strings.ToLower(owner), keyID)
}

// Verify checks that signatureHex is a valid personal-sign signature of
// message by address. Any malformed or mismatched signature is reported as
// INVALID_SIGNATURE; the caller maps it to HTTP 401.
func (v *Verifier) Verify(address, message, signatureHex string) error {
	if !common.IsHexAddress(address) {
		return apperrors.NewInvalidAddressError(address)
	}

	sig, err := hexutil.Decode(ensureHexPrefix(signatureHex))
	if err != nil {
		return apperrors.NewInvalidSignatureError(address)
	}
	if len(sig) != crypto.SignatureLength {
		return apperrors.NewInvalidSignatureError(address)
	}

	// Wallets emit V as 27/28; crypto.SigToPub expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return apperrors.NewInvalidSignatureError(address)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != common.HexToAddress(address) {
		return apperrors.NewInvalidSignatureError(address)
	}

	return nil
}

// ensureHexPrefix normalizes signatures sent without the 0x prefix
func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
