package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"givepool/crypto"
	"givepool/native/settlement"
)

// decodeParams unmarshals the single object parameter every settlement method
// takes. Methods without parameters accept an empty params array.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}
	return amount, nil
}

func parseFingerprint(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid fingerprint hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("fingerprint must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func formatFingerprint(fp [32]byte) string {
	return "0x" + hex.EncodeToString(fp[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type instructionParams struct {
	Actor         string `json:"actor"`
	FundraiserID  string `json:"fundraiserId"`
	Amount        string `json:"amount"`
	SourceChainID uint64 `json:"sourceChainId"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

func (p instructionParams) decode() (actor [20]byte, amount *big.Int, err error) {
	actor, err = parseAddress(p.Actor)
	if err != nil {
		return actor, nil, fmt.Errorf("actor: %w", err)
	}
	amount, err = parseAmount(p.Amount)
	if err != nil {
		return actor, nil, err
	}
	return actor, amount, nil
}

func (s *Server) handleComputeMessageHash(w http.ResponseWriter, req *RPCRequest, action settlement.ActionKind) {
	var params instructionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	actor, amount, err := params.decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	fp, err := settlement.ComputeFingerprint(actor, params.FundraiserID, amount, params.SourceChainID, action)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"fingerprint": formatFingerprint(fp)})
}

func (s *Server) handleIsMessageProcessed(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	fp, err := parseFingerprint(params.Fingerprint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	processed, err := s.engine.IsMessageProcessed(fp)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"processed": processed})
}

type stakerParams struct {
	Staker string `json:"staker"`
}

func (s *Server) handleEarned(w http.ResponseWriter, req *RPCRequest) {
	var params stakerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	staker, err := parseAddress(params.Staker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	earned, err := s.engine.Earned(staker)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"earned": formatAmount(earned)})
}

type positionResult struct {
	Staker           string `json:"staker"`
	Principal        string `json:"principal"`
	PaidPerShare     string `json:"paidPerShare"`
	AccruedUnclaimed string `json:"accruedUnclaimed"`
}

func (s *Server) handlePosition(w http.ResponseWriter, req *RPCRequest) {
	var params stakerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	staker, err := parseAddress(params.Staker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	pos, err := s.engine.Position(staker)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResult{
		Staker:           params.Staker,
		Principal:        formatAmount(pos.Principal),
		PaidPerShare:     formatAmount(pos.PaidPerShare),
		AccruedUnclaimed: formatAmount(pos.AccruedUnclaimed),
	})
}

func (s *Server) handleFundraiserTotal(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		FundraiserID string `json:"fundraiserId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	total, err := s.engine.FundraiserTotal(params.FundraiserID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"totalDonations": formatAmount(total)})
}

func (s *Server) handleCrossChainDonation(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params instructionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	actor, amount, err := params.decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	fp, err := parseFingerprint(params.Fingerprint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if err := s.engine.HandleCrossChainDonation(caller, actor, params.FundraiserID, amount, fp, params.SourceChainID); err != nil {
		s.metrics.ObserveInstruction(string(settlement.ActionDonate), "rejected")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveInstruction(string(settlement.ActionDonate), "applied")
	s.logger.Info("donation credited",
		"fundraiser", params.FundraiserID,
		"amount", params.Amount,
		"sourceChain", params.SourceChainID)
	writeResult(w, req.ID, map[string]string{"status": "applied", "fingerprint": formatFingerprint(fp)})
}

func (s *Server) handleCrossChainStake(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params instructionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	actor, amount, err := params.decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	fp, err := parseFingerprint(params.Fingerprint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if err := s.engine.HandleCrossChainStake(caller, actor, params.FundraiserID, amount, fp, params.SourceChainID); err != nil {
		s.metrics.ObserveInstruction(string(settlement.ActionStake), "rejected")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveInstruction(string(settlement.ActionStake), "applied")
	s.logger.Info("cross-chain stake applied",
		"fundraiser", params.FundraiserID,
		"amount", params.Amount,
		"sourceChain", params.SourceChainID)
	writeResult(w, req.ID, map[string]string{"status": "applied", "fingerprint": formatFingerprint(fp)})
}

func (s *Server) handleCrossChainDonationLegacy(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params instructionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	actor, amount, err := params.decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if err := s.engine.HandleCrossChainDonationLegacy(caller, actor, params.FundraiserID, amount); err != nil {
		s.metrics.ObserveInstruction("donate-legacy", "rejected")
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveInstruction("donate-legacy", "applied")
	writeResult(w, req.ID, map[string]string{"status": "applied"})
}

type amountParams struct {
	Amount string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	staker, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if err := s.engine.Stake(staker, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "staked", "amount": params.Amount})
}

func (s *Server) handleUnstake(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	staker, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	if err := s.engine.Unstake(staker, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "unstaked", "amount": params.Amount})
}

type harvestResult struct {
	Harvested      string `json:"harvested"`
	CauseAmount    string `json:"causeAmount"`
	StakerAmount   string `json:"stakerAmount"`
	PlatformAmount string `json:"platformAmount"`
}

func (s *Server) handleHarvestAndDistribute(w http.ResponseWriter, req *RPCRequest, _ *authClaims) {
	receipt, err := s.engine.HarvestAndDistribute()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	harvested, _ := new(big.Float).SetInt(receipt.Harvested).Float64()
	s.metrics.ObserveHarvest(harvested)
	if receipt.CauseAmount.Sign() > 0 {
		s.metrics.ObservePayout("cause")
	}
	if receipt.PlatformAmount.Sign() > 0 {
		s.metrics.ObservePayout("platform")
	}
	s.logger.Info("harvest distributed",
		"harvested", receipt.Harvested.String(),
		"cause", receipt.CauseAmount.String(),
		"stakers", receipt.StakerAmount.String(),
		"platform", receipt.PlatformAmount.String())
	writeResult(w, req.ID, harvestResult{
		Harvested:      formatAmount(receipt.Harvested),
		CauseAmount:    formatAmount(receipt.CauseAmount),
		StakerAmount:   formatAmount(receipt.StakerAmount),
		PlatformAmount: formatAmount(receipt.PlatformAmount),
	})
}

func (s *Server) handleClaimAllRewards(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	staker, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	paid, err := s.engine.ClaimAllRewards(staker)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if paid.Sign() > 0 {
		s.metrics.ObservePayout("staker")
	}
	writeResult(w, req.ID, map[string]string{"paid": formatAmount(paid)})
}

func (s *Server) handleSetYieldSplit(w http.ResponseWriter, req *RPCRequest, claims *authClaims) {
	var params struct {
		CauseBps    uint32 `json:"causeBps"`
		StakerBps   uint32 `json:"stakerBps"`
		PlatformBps uint32 `json:"platformBps"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	staker, err := parseAddress(claims.Subject)
	if err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "token subject is not a valid address", err.Error())
		return
	}
	split := settlement.YieldSplit{
		CauseBps:    params.CauseBps,
		StakerBps:   params.StakerBps,
		PlatformBps: params.PlatformBps,
	}
	if err := s.engine.SetYieldSplit(staker, split); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "updated"})
}
