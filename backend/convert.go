package backend

import (
	"encoding/hex"
	"math"

	"github.com/OLProtocol/go-bitcoind"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/russeree/mempool/common"
)

func btcToSats(value float64) int64 {
	return int64(math.Round(value * 1e8))
}

// convertRawTransaction maps the node's verbose transaction form onto the
// extended form. Size is derived from the hex; prevouts and fee stay empty
// until resolved.
func convertRawTransaction(raw *bitcoind.RawTransaction) *common.TransactionExtended {
	tx := &common.TransactionExtended{
		Txid:     raw.Txid,
		Version:  raw.Version,
		Locktime: raw.LockTime,
		Size:     int64(len(raw.Hex) / 2),
	}
	tx.Vsize = float64(tx.Size)
	tx.Weight = tx.Size * 4

	for _, vin := range raw.Vin {
		converted := &common.Vin{
			Txid:       vin.Txid,
			Vout:       uint32(vin.Vout),
			Sequence:   vin.Sequence,
			IsCoinbase: vin.Coinbase != "",
		}
		tx.Vin = append(tx.Vin, converted)
	}
	for _, vout := range raw.Vout {
		converted := &common.Vout{
			Scriptpubkey:     vout.ScriptPubKey.Hex,
			ScriptpubkeyType: vout.ScriptPubKey.Type,
			Value:            btcToSats(vout.Value),
		}
		if len(vout.ScriptPubKey.Addresses) > 0 {
			converted.ScriptpubkeyAddress = vout.ScriptPubKey.Addresses[0]
		}
		tx.Vout = append(tx.Vout, converted)
	}
	return tx
}

// convertWireTransaction maps a consensus-encoded transaction onto the
// extended form, resolving output addresses through txscript.
func convertWireTransaction(tx *btcutil.Tx, chainParams *chaincfg.Params) *common.TransactionExtended {
	msgTx := tx.MsgTx()
	totalSize := int64(msgTx.SerializeSize())
	baseSize := int64(msgTx.SerializeSizeStripped())
	weight := baseSize*3 + totalSize

	converted := &common.TransactionExtended{
		Txid:     tx.Hash().String(),
		Version:  uint32(msgTx.Version),
		Locktime: msgTx.LockTime,
		Size:     totalSize,
		Weight:   weight,
		Vsize:    math.Ceil(float64(weight) / 4),
	}

	for index, txIn := range msgTx.TxIn {
		vin := &common.Vin{
			Txid:       txIn.PreviousOutPoint.Hash.String(),
			Vout:       txIn.PreviousOutPoint.Index,
			Sequence:   txIn.Sequence,
			IsCoinbase: index == 0 && txIn.PreviousOutPoint.Index == wire.MaxPrevOutIndex,
		}
		converted.Vin = append(converted.Vin, vin)
	}
	for _, txOut := range msgTx.TxOut {
		vout := &common.Vout{
			Scriptpubkey: scriptHex(txOut.PkScript),
			Value:        txOut.Value,
		}
		scriptClass, addrs, _, err := txscript.ExtractPkScriptAddrs(txOut.PkScript, chainParams)
		if err == nil {
			vout.ScriptpubkeyType = scriptClass.String()
			if len(addrs) > 0 {
				vout.ScriptpubkeyAddress = addrs[0].EncodeAddress()
			}
		}
		converted.Vout = append(converted.Vout, vout)
	}
	return converted
}

func scriptHex(script []byte) string {
	return hex.EncodeToString(script)
}

// ChainParams maps the configured chain name onto btcd network parameters.
func ChainParams(chain string) *chaincfg.Params {
	switch chain {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
