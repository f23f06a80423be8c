package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// PatternKind enumerates the nine pattern variants a client can register.
type PatternKind int

const (
	PatternAny PatternKind = iota
	PatternExactAddress
	PatternAddressPrefix
	PatternPaymentCredential
	PatternDelegationCredential
	PatternMatchPolicyId
	PatternMatchAssetId
	PatternOutputReference
	PatternTransactionId
)

// Pattern is a parsed filter, plus the canonical text it renders back to.
// Only the fields relevant to Kind are populated; the rest are zero.
type Pattern struct {
	Kind PatternKind

	Address    string // ExactAddress
	Prefix     string // AddressPrefix, raw bech32 human-readable prefix + partial data
	Credential string // PaymentCredential / DelegationCredential, hex-encoded hash
	PolicyID   string // MatchPolicyId / MatchAssetId, hex
	AssetName  string // MatchAssetId, hex
	TxID       string // OutputReference / TransactionId, hex
	OutputIx   uint32 // OutputReference
}

// ParsePattern parses a pattern's canonical text form.
//
//	*                     Any
//	{addr}                ExactAddress
//	{prefix}/*            AddressPrefix
//	{paymentCred}/*        PaymentCredential
//	*/{delegationCred}     DelegationCredential
//	{policyId}.*          MatchPolicyId
//	{policyId}.{assetName} MatchAssetId
//	{txId}@{ix}           OutputReference
//	{txId}.*              TransactionId
func ParsePattern(text string) (Pattern, error) {
	if text == "*" {
		return Pattern{Kind: PatternAny}, nil
	}

	if idx := strings.IndexByte(text, '@'); idx >= 0 {
		txID := text[:idx]
		ixStr := text[idx+1:]
		if !isHex(txID) || len(txID) != 64 {
			return Pattern{}, fmt.Errorf("chain: invalid transaction id in output reference %q", text)
		}
		ix, err := strconv.ParseUint(ixStr, 10, 32)
		if err != nil {
			return Pattern{}, fmt.Errorf("chain: invalid output index in %q: %w", text, err)
		}
		return Pattern{Kind: PatternOutputReference, TxID: strings.ToLower(txID), OutputIx: uint32(ix)}, nil
	}

	if strings.HasPrefix(text, "*/") {
		cred := text[2:]
		if !isHex(cred) {
			return Pattern{}, fmt.Errorf("chain: invalid delegation credential in %q", text)
		}
		return Pattern{Kind: PatternDelegationCredential, Credential: strings.ToLower(cred)}, nil
	}

	if strings.HasSuffix(text, "/*") {
		body := text[:len(text)-2]
		if isHex(body) {
			return Pattern{Kind: PatternPaymentCredential, Credential: strings.ToLower(body)}, nil
		}
		return Pattern{Kind: PatternAddressPrefix, Prefix: body}, nil
	}

	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		policy := text[:idx]
		rest := text[idx+1:]
		if rest == "*" && isHex(policy) && len(policy) == 64 {
			return Pattern{Kind: PatternTransactionId, TxID: strings.ToLower(policy)}, nil
		}
		if !isHex(policy) || len(policy) != 56 {
			return Pattern{}, fmt.Errorf("chain: invalid policy id in %q", text)
		}
		if rest == "*" {
			return Pattern{Kind: PatternMatchPolicyId, PolicyID: strings.ToLower(policy)}, nil
		}
		if !isHex(rest) {
			return Pattern{}, fmt.Errorf("chain: invalid asset name in %q", text)
		}
		return Pattern{Kind: PatternMatchAssetId, PolicyID: strings.ToLower(policy), AssetName: strings.ToLower(rest)}, nil
	}

	if _, _, err := bech32.DecodeNoLimit(text); err == nil {
		return Pattern{Kind: PatternExactAddress, Address: text}, nil
	}

	return Pattern{}, fmt.Errorf("chain: unrecognized pattern %q", text)
}

// String renders a Pattern back to its canonical text form.
func (p Pattern) String() string {
	switch p.Kind {
	case PatternAny:
		return "*"
	case PatternExactAddress:
		return p.Address
	case PatternAddressPrefix:
		return p.Prefix + "/*"
	case PatternPaymentCredential:
		return p.Credential + "/*"
	case PatternDelegationCredential:
		return "*/" + p.Credential
	case PatternMatchPolicyId:
		return p.PolicyID + ".*"
	case PatternMatchAssetId:
		return p.PolicyID + "." + p.AssetName
	case PatternOutputReference:
		return fmt.Sprintf("%s@%d", p.TxID, p.OutputIx)
	case PatternTransactionId:
		return p.TxID + ".*"
	default:
		return ""
	}
}

// Overlaps reports whether one pattern's selection contains the other's,
// in either direction — used to guard DELETE /matches from silently
// discarding rows still covered by another registered pattern. Any
// overlaps everything; patterns of the same kind overlap when they name
// the same target (or, for address prefixes, one prefix extends the
// other); across kinds only the pairs in overlapsCross overlap, so e.g.
// an exact address and a policy id never do even if one output matches
// both.
func (p Pattern) Overlaps(other Pattern) bool {
	if p.Kind == PatternAny || other.Kind == PatternAny {
		return true
	}
	if p.Kind != other.Kind {
		return p.overlapsCross(other) || other.overlapsCross(p)
	}
	switch p.Kind {
	case PatternExactAddress:
		return p.Address == other.Address
	case PatternAddressPrefix:
		return strings.HasPrefix(p.Prefix, other.Prefix) || strings.HasPrefix(other.Prefix, p.Prefix)
	case PatternPaymentCredential:
		return p.Credential == other.Credential
	case PatternDelegationCredential:
		return p.Credential == other.Credential
	case PatternMatchPolicyId:
		return p.PolicyID == other.PolicyID
	case PatternMatchAssetId:
		return p.PolicyID == other.PolicyID && p.AssetName == other.AssetName
	case PatternOutputReference:
		return p.TxID == other.TxID && p.OutputIx == other.OutputIx
	case PatternTransactionId:
		return p.TxID == other.TxID
	default:
		return false
	}
}

// overlapsCross handles the asymmetric cross-kind cases (e.g. a
// MatchAssetId is covered by a MatchPolicyId with the same policy).
func (p Pattern) overlapsCross(other Pattern) bool {
	switch {
	case p.Kind == PatternMatchPolicyId && other.Kind == PatternMatchAssetId:
		return p.PolicyID == other.PolicyID
	case p.Kind == PatternExactAddress && other.Kind == PatternAddressPrefix:
		return strings.HasPrefix(p.Address, other.Prefix)
	case p.Kind == PatternExactAddress && other.Kind == PatternPaymentCredential:
		return strings.Contains(p.Address, other.Credential)
	default:
		return false
	}
}

// Matches reports whether a pattern selects a given indexed result. This is
// the ground truth used both for live consumer filtering and for the
// store's FoldInputs, which re-applies it row by row since SQLite has no
// native notion of Cardano address/credential prefixes.
func (p Pattern) Matches(address string, policies map[string]map[string]uint64, txID string, outputIx uint32) bool {
	switch p.Kind {
	case PatternAny:
		return true
	case PatternExactAddress:
		return address == p.Address
	case PatternAddressPrefix:
		return strings.HasPrefix(address, p.Prefix)
	case PatternPaymentCredential:
		return strings.Contains(address, p.Credential)
	case PatternDelegationCredential:
		return strings.HasSuffix(address, p.Credential)
	case PatternMatchPolicyId:
		_, ok := policies[p.PolicyID]
		return ok
	case PatternMatchAssetId:
		assets, ok := policies[p.PolicyID]
		if !ok {
			return false
		}
		_, ok = assets[p.AssetName]
		return ok
	case PatternOutputReference:
		return txID == p.TxID && outputIx == p.OutputIx
	case PatternTransactionId:
		return txID == p.TxID
	default:
		return false
	}
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') && !(r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
