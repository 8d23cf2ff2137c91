package websocket

import (
	"regexp"
	"strings"
)

// One expression classifies every tracked-handle form: legacy base58
// (26-35 or 80 chars), lowercase bech32/bech32m, uppercase bech32,
// uncompressed public key (04 + 128 hex) and compressed public key
// (02|03 + 64 hex).
var (
	addressFormat = regexp.MustCompile(`^(` +
		`[a-km-zA-HJ-NP-Z1-9]{26,35}` +
		`|[a-km-zA-HJ-NP-Z1-9]{80}` +
		`|[a-z]{2,5}1[ac-hj-np-z02-9]{8,100}` +
		`|[A-Z]{2,5}1[AC-HJ-NP-Z02-9]{8,100}` +
		`|04[a-fA-F0-9]{128}` +
		`|(02|03)[a-fA-F0-9]{64}` +
		`)$`)

	upperBech32Format     = regexp.MustCompile(`^[A-Z]{2,5}1[AC-HJ-NP-Z02-9]{8,100}$`)
	uncompressedKeyFormat = regexp.MustCompile(`^04[a-fA-F0-9]{128}$`)
	compressedKeyFormat   = regexp.MustCompile(`^(02|03)[a-fA-F0-9]{64}$`)

	txidFormat        = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	scriptpubkeyForm  = regexp.MustCompile(`^[a-fA-F0-9]+$`)
	bisqMarketFormat  = regexp.MustCompile(`^[a-z]{3}_[a-z]{3}$`)
)

// CanonicalizeAddress validates an address-like string and converts it into
// the canonical matching form: uppercase bech32 is lowered and raw public
// keys become their P2PK output script. Anything else that matches is
// returned unchanged. The second return is false when the input does not
// classify at all; callers must store nothing in that case.
func CanonicalizeAddress(address string) (string, bool) {
	if !addressFormat.MatchString(address) {
		return "", false
	}
	switch {
	case upperBech32Format.MatchString(address):
		return strings.ToLower(address), true
	case uncompressedKeyFormat.MatchString(address):
		return "41" + strings.ToLower(address) + "ac", true
	case compressedKeyFormat.MatchString(address):
		return "21" + strings.ToLower(address) + "ac", true
	default:
		return address, true
	}
}

// ValidateScriptpubkey accepts even-length hex and returns it lowercased.
func ValidateScriptpubkey(script string) (string, bool) {
	if len(script) == 0 || len(script)%2 != 0 || !scriptpubkeyForm.MatchString(script) {
		return "", false
	}
	return strings.ToLower(script), true
}

func IsValidTxid(txid string) bool {
	return txidFormat.MatchString(txid)
}

func IsValidBisqMarket(market string) bool {
	return bisqMarketFormat.MatchString(market)
}
