package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"meme-composer/core"
)

const nonceTTL = 5 * time.Minute

var (
	errNoChallenge  = errors.New("no pending sign-in challenge for address")
	errBadSignature = errors.New("signature does not match address")
)

type challenge struct {
	message string
	expires time.Time
}

// challenges holds one pending sign-in message per address. A challenge is
// consumed by the first verification attempt.
type challenges struct {
	mu      sync.Mutex
	pending map[string]challenge
	now     func() time.Time
}

var walletChallenges = newChallenges()

func newChallenges() *challenges {
	return &challenges{pending: make(map[string]challenge), now: time.Now}
}

func (c *challenges) issue(address string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Sign in to meme-composer\n\nAddress: %s\nNonce: %s", address, hex.EncodeToString(b))

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for addr, ch := range c.pending {
		if now.After(ch.expires) {
			delete(c.pending, addr)
		}
	}
	c.pending[address] = challenge{message: msg, expires: now.Add(nonceTTL)}
	return msg, nil
}

func (c *challenges) take(address string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[address]
	delete(c.pending, address)
	if !ok || c.now().After(ch.expires) {
		return "", false
	}
	return ch.message, true
}

// normalizeAddress returns the lowercased 0x form of a hex address.
func normalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid wallet address %q", s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// recoverAddress returns the address that produced a personal_sign
// signature over message.
func recoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func verifyWallet(address, signature string) error {
	message, ok := walletChallenges.take(address)
	if !ok {
		return errNoChallenge
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	signer, err := recoverAddress(message, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadSignature, err)
	}
	if strings.ToLower(signer.Hex()) != address {
		return errBadSignature
	}
	return nil
}

// HandleNonce issues the message a wallet must sign to log in.
func HandleNonce(w http.ResponseWriter, r *http.Request) {
	address, err := normalizeAddress(r.URL.Query().Get("address"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	msg, err := walletChallenges.issue(address)
	if err != nil {
		logrus.WithError(err).Error("Failed to generate sign-in nonce")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to generate nonce"})
		return
	}
	render.JSON(w, r, map[string]string{"address": address, "message": msg})
}

type walletLoginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// HandleWalletLogin verifies a signed challenge and returns a token whose
// subject is the wallet address.
func HandleWalletLogin(w http.ResponseWriter, r *http.Request) {
	var req walletLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Invalid request body"})
		return
	}
	address, err := normalizeAddress(req.Address)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	log := logrus.WithField("address", address)
	if err := verifyWallet(address, req.Signature); err != nil {
		log.WithError(err).Warn("Wallet login rejected")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	user := &core.User{Subject: address, Provider: "wallet", Login: address}
	token, err := login(r.Context(), user)
	if err != nil {
		log.WithError(err).Error("Failed to issue token")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to issue token"})
		return
	}
	log.Info("Wallet login succeeded")
	render.JSON(w, r, map[string]any{"token": token, "user": user})
}
