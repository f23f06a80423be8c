package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kupochain/indexer/internal/apierror"
	"github.com/kupochain/indexer/internal/store"
	"github.com/kupochain/indexer/pkg/chain"
)

type matchResponse struct {
	TransactionID string            `json:"transaction_id"`
	OutputIndex   uint32            `json:"output_index"`
	Address       string            `json:"address"`
	Value         valueResponse     `json:"value"`
	DatumHash     string            `json:"datum_hash,omitempty"`
	ScriptHash    string            `json:"script_hash,omitempty"`
	CreatedAt     pointResponse     `json:"created_at"`
	SpentAt       *pointResponse    `json:"spent_at,omitempty"`
}

type valueResponse struct {
	Coins      uint64                       `json:"coins"`
	MultiAsset map[string]map[string]uint64 `json:"assets,omitempty"`
}

type pointResponse struct {
	Slot       uint64 `json:"slot"`
	HeaderHash string `json:"header_hash,omitempty"`
	TxID       string `json:"transaction_id,omitempty"`
}

func toMatchResponse(r chain.Result) matchResponse {
	resp := matchResponse{
		TransactionID: r.TransactionID,
		OutputIndex:   r.OutputIndex,
		Address:       r.Address,
		Value:         valueResponse{Coins: r.Value.Coins, MultiAsset: r.Value.MultiAsset},
		DatumHash:     r.DatumHash,
		ScriptHash:    r.ScriptRef,
		CreatedAt:     pointResponse{Slot: r.CreatedAtSlot, HeaderHash: r.CreatedAtHeaderHash},
	}
	if r.SpentAtSlot != nil {
		resp.SpentAt = &pointResponse{Slot: *r.SpentAtSlot, HeaderHash: r.SpentAtHeaderHash, TxID: r.SpentAtTxID}
	}
	return resp
}

// listMatches streams every indexed output through the response, honoring
// ?spent=, ?unspent=, ?order= query parameters (§6.1 GET /matches).
func (h *Handler) listMatches(c *gin.Context) {
	h.streamMatches(c, nil)
}

// listMatchesForPattern restricts the stream to outputs selected by the
// pattern embedded in the URL path (GET /matches/{pattern}).
func (h *Handler) listMatchesForPattern(c *gin.Context) {
	text := trimPatternPath(c.Param("pattern"))
	if text == "" {
		h.streamMatches(c, nil)
		return
	}
	pattern, err := chain.ParsePattern(text)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid pattern", err))
		return
	}
	h.streamMatches(c, []chain.Pattern{pattern})
}

func (h *Handler) streamMatches(c *gin.Context, patterns []chain.Pattern) {
	_, hasSpent := c.GetQuery("spent")
	_, hasUnspent := c.GetQuery("unspent")
	if hasSpent && hasUnspent {
		writeError(c, apierror.New(apierror.ErrValidation, "invalid_match_filter"))
		return
	}
	status := store.StatusAll
	switch {
	case hasSpent:
		status = store.StatusSpentOnly
	case hasUnspent:
		status = store.StatusUnspentOnly
	}

	sort := store.SortNone
	switch c.Query("order") {
	case "oldest_first":
		sort = store.SortOldestFirst
	case "most_recent_first":
		sort = store.SortMostRecentFirst
	}

	filter, err := parseMatchFilter(c)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid_match_filter", err))
		return
	}

	results := make([]matchResponse, 0, 64)
	err = h.store.FoldInputs(c.Request.Context(), patterns, status, sort, func(r chain.Result) error {
		if filter != nil && !filter.matches(r) {
			return nil
		}
		results = append(results, toMatchResponse(r))
		return nil
	})
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to enumerate matches", err))
		return
	}
	c.JSON(http.StatusOK, results)
}

// matchFilter narrows GET /matches to outputs tied to a specific policy,
// asset, transaction or output reference (§6.1 FilterMatchesBy); at most
// one of these may be given.
type matchFilter struct {
	kind          string
	policyID      string
	assetName     string
	transactionID string
	outputIndex   uint32
}

func parseMatchFilter(c *gin.Context) (*matchFilter, error) {
	var f matchFilter
	present := 0

	if v := c.Query("policy_id"); v != "" {
		if _, err := hex.DecodeString(v); err != nil {
			return nil, fmt.Errorf("policy_id must be hex: %w", err)
		}
		f = matchFilter{kind: "policy_id", policyID: v}
		present++
	}
	if v := c.Query("asset_id"); v != "" {
		policy, asset, ok := strings.Cut(v, ".")
		if !ok {
			return nil, fmt.Errorf("asset_id must be <policy hex>.<asset name hex>")
		}
		if _, err := hex.DecodeString(policy); err != nil {
			return nil, fmt.Errorf("asset_id policy must be hex: %w", err)
		}
		if _, err := hex.DecodeString(asset); err != nil {
			return nil, fmt.Errorf("asset_id name must be hex: %w", err)
		}
		f = matchFilter{kind: "asset_id", policyID: policy, assetName: asset}
		present++
	}
	if v := c.Query("transaction_id"); v != "" {
		if _, err := hex.DecodeString(v); err != nil {
			return nil, fmt.Errorf("transaction_id must be hex: %w", err)
		}
		f = matchFilter{kind: "transaction_id", transactionID: v}
		present++
	}
	if v := c.Query("output_reference"); v != "" {
		txID, idxText, ok := strings.Cut(v, "#")
		if !ok {
			return nil, fmt.Errorf("output_reference must be <transaction id hex>#<output index>")
		}
		if _, err := hex.DecodeString(txID); err != nil {
			return nil, fmt.Errorf("output_reference transaction id must be hex: %w", err)
		}
		idx, err := strconv.ParseUint(idxText, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("output_reference index must be a u32: %w", err)
		}
		f = matchFilter{kind: "output_reference", transactionID: txID, outputIndex: uint32(idx)}
		present++
	}

	if present > 1 {
		return nil, fmt.Errorf("at most one of policy_id, asset_id, transaction_id, output_reference may be given")
	}
	if present == 0 {
		return nil, nil
	}
	return &f, nil
}

func (f *matchFilter) matches(r chain.Result) bool {
	switch f.kind {
	case "policy_id":
		_, ok := r.Value.MultiAsset[f.policyID]
		return ok
	case "asset_id":
		assets, ok := r.Value.MultiAsset[f.policyID]
		if !ok {
			return false
		}
		_, ok = assets[f.assetName]
		return ok
	case "transaction_id":
		return r.TransactionID == f.transactionID
	case "output_reference":
		return r.TransactionID == f.transactionID && r.OutputIndex == f.outputIndex
	default:
		return true
	}
}

// deleteMatches purges every indexed match (spent or unspent) selected by
// the pattern in the URL path, refusing the operation unconditionally if
// the pattern still overlaps a registered pattern: that pattern would
// simply re-index the same rows on the next block (§4.7).
func (h *Handler) deleteMatches(c *gin.Context) {
	text := trimPatternPath(c.Param("pattern"))
	pattern, err := chain.ParsePattern(text)
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrValidation, "invalid_pattern", err))
		return
	}

	for _, other := range h.registry.Snapshot() {
		if other.Overlaps(pattern) {
			writeError(c, apierror.New(apierror.ErrValidation, "still_active_pattern"))
			return
		}
	}

	var refs []chain.Input
	err = h.store.FoldInputs(c.Request.Context(), []chain.Pattern{pattern}, store.StatusAll, store.SortNone, func(r chain.Result) error {
		refs = append(refs, chain.Input{TransactionID: r.TransactionID, OutputIndex: r.OutputIndex})
		return nil
	})
	if err != nil {
		writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to enumerate matches", err))
		return
	}

	if len(refs) > 0 {
		if err := h.store.DeleteInputsByReference(c.Request.Context(), refs); err != nil {
			writeError(c, apierror.Wrap(apierror.ErrInternal, "failed to delete matches", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(refs)})
}
