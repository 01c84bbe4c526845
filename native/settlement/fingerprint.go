package settlement

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// fingerprintDomain versions the preimage layout. Changing any field of the
// canonical payload requires bumping the domain.
const fingerprintDomain = "givepool-settlement-v1"

// ComputeFingerprint derives the deterministic keccak256 fingerprint that both
// authenticates and deduplicates a cross-chain instruction. The action kind is
// part of the preimage, so a stake fingerprint can never validate a donation.
// The amount is encoded as a 32-byte big-endian word so the payload cannot be
// reinterpreted across field boundaries.
func ComputeFingerprint(actor [20]byte, fundraiserID string, amount *big.Int, sourceChainID uint64, action ActionKind) ([32]byte, error) {
	var fp [32]byte
	if !action.Valid() {
		return fp, fmt.Errorf("%w: unknown action %q", errInvalidInstruction, string(action))
	}
	if amount == nil || amount.Sign() <= 0 {
		return fp, errInvalidAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return fp, fmt.Errorf("%w: amount exceeds 256 bits", errInvalidInstruction)
	}
	amountBytes := word.Bytes32()
	payload := fmt.Sprintf("%s|chain=%d|action=%s|actor=%s|fundraiser=%s|amount=%s",
		fingerprintDomain,
		sourceChainID,
		string(action),
		hex.EncodeToString(actor[:]),
		strings.TrimSpace(fundraiserID),
		hex.EncodeToString(amountBytes[:]),
	)
	digest := ethcrypto.Keccak256([]byte(payload))
	copy(fp[:], digest)
	return fp, nil
}

// ComputeDonationFingerprint is the donation-kind convenience wrapper exposed
// to bridges and tooling.
func ComputeDonationFingerprint(actor [20]byte, fundraiserID string, amount *big.Int, sourceChainID uint64) ([32]byte, error) {
	return ComputeFingerprint(actor, fundraiserID, amount, sourceChainID, ActionDonate)
}

// ComputeStakeFingerprint is the stake-kind convenience wrapper exposed to
// bridges and tooling.
func ComputeStakeFingerprint(actor [20]byte, fundraiserID string, amount *big.Int, sourceChainID uint64) ([32]byte, error) {
	return ComputeFingerprint(actor, fundraiserID, amount, sourceChainID, ActionStake)
}

// VerifyInstruction recomputes the fingerprint from the instruction's plain
// fields and compares it byte-for-byte against the supplied one. Any mismatch
// fails closed with ErrInvalidMessageHash. No side effects.
func VerifyInstruction(instr CrossChainInstruction) error {
	expected, err := ComputeFingerprint(instr.Actor, instr.FundraiserID, instr.Amount, instr.SourceChainID, instr.Action)
	if err != nil {
		return ErrInvalidMessageHash
	}
	if !bytes.Equal(expected[:], instr.Fingerprint[:]) {
		return ErrInvalidMessageHash
	}
	return nil
}
