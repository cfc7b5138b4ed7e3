package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
)

// No repository in the reference pack anchors to Bitcoin; this client is
// built directly against btcsuite/btcd's canonical API rather than adapted
// from a pack example (see DESIGN.md "Bitcoin grounding gap"). RPC calls use
// a minimal JSON-RPC 1.0 client over net/http instead of the separate
// rpcclient module, which the pack does not declare.

const (
	defaultTestnetFeeRate = int64(10) // sat/vbyte
	defaultMainnetFeeRate = int64(20) // sat/vbyte
	dustLimit             = int64(546)
)

// BitcoinClient anchors batch roots via an OP_RETURN output funded from a
// single-key UTXO set (§4.7 Bitcoin rules).
type BitcoinClient struct {
	rpcURL        string
	explorerTxURL string
	network       *chaincfg.Params
	privateKeyWIF string
	http          *http.Client
}

// NewBitcoinClient targets the bitcoind-compatible JSON-RPC endpoint at
// rpcURL (credentials, if any, embedded in its userinfo) and resolves the
// mempool.space transaction submission endpoint matching network, used as
// the broadcast fallback when rpcURL is unreachable (§4.7 step 4 "on
// failure fall back to a public explorer API"). privateKeyWIF is not parsed
// here: an enabled-but-misconfigured chain must still construct a
// ChainClient so the engine runs it and Broadcast can surface
// AnchorFailed(chain, "invalid-key") through the normal per-chain path,
// rather than the chain silently never anchoring at all (spec.md §8
// boundary behavior).
func NewBitcoinClient(rpcURL, network, privateKeyWIF string) (*BitcoinClient, error) {
	return &BitcoinClient{
		rpcURL:        rpcURL,
		explorerTxURL: mempoolSpaceTxURL(network),
		network:       bitcoinParams(network),
		privateKeyWIF: privateKeyWIF,
		http:          &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// keyMaterial decodes privateKeyWIF and derives the P2WPKH address it
// spends from, on every call rather than once at construction — see
// NewBitcoinClient for why the key is not parsed eagerly.
func (c *BitcoinClient) keyMaterial() (*btcec.PrivateKey, []byte, btcutil.Address, error) {
	wif, err := btcutil.DecodeWIF(c.privateKeyWIF)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bitcoin: decode WIF: %w", err)
	}
	pubKeyHash := btcutil.Hash160(wif.PrivKey.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, c.network)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bitcoin: derive address: %w", err)
	}
	return wif.PrivKey, pubKeyHash, addr, nil
}

// mempoolSpaceTxURL returns the mempool.space raw-transaction submission
// endpoint for network, the public explorer API used as the broadcast
// fallback.
func mempoolSpaceTxURL(network string) string {
	switch strings.ToLower(network) {
	case "mainnet":
		return "https://mempool.space/api/tx"
	case "regtest":
		return ""
	default:
		return "https://mempool.space/testnet/api/tx"
	}
}

func bitcoinParams(network string) *chaincfg.Params {
	switch strings.ToLower(network) {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

func (c *BitcoinClient) Chain() model.Chain { return model.ChainBitcoin }

type utxo struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
	// Amount is denominated in whole BTC, as bitcoind's listunspent reports it.
	Amount float64 `json:"amount"`
}

// Broadcast funds a zero-value OP_RETURN output committing root from the
// configured address's UTXO set, returning change to the same address
// (§4.7 Bitcoin rules).
func (c *BitcoinClient) Broadcast(ctx context.Context, root [32]byte) (string, error) {
	privateKey, pubKeyHash, address, err := c.keyMaterial()
	if err != nil {
		return "", err
	}

	feeRate, err := c.estimateFeeRate(ctx)
	if err != nil {
		feeRate = c.defaultFeeRate()
	}

	utxos, err := c.listUnspent(ctx, address)
	if err != nil {
		return "", fmt.Errorf("bitcoin: list unspent: %w", err)
	}
	if len(utxos) == 0 {
		return "", errors.New("bitcoin: no spendable utxos for configured address")
	}
	input := utxos[0]

	tx := wire.NewMsgTx(wire.TxVersion)

	prevHash, err := chainhash.NewHashFromStr(input.TxID)
	if err != nil {
		return "", fmt.Errorf("bitcoin: parse utxo txid: %w", err)
	}
	outPoint := wire.NewOutPoint(prevHash, input.Vout)
	tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

	opReturnScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(root[:]).
		Script()
	if err != nil {
		return "", fmt.Errorf("bitcoin: build OP_RETURN script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))

	inputValue := btcutil.Amount(input.Amount * btcutil.SatoshiPerBitcoin)
	estimatedVSize := int64(150) // one P2WPKH input, one OP_RETURN output, one change output
	fee := feeRate * estimatedVSize

	changeScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return "", fmt.Errorf("bitcoin: build change script: %w", err)
	}
	change := int64(inputValue) - fee
	if change < 0 {
		return "", errors.New("bitcoin: insufficient funds to cover fee")
	}
	if change > dustLimit {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	if err := c.signInput(tx, 0, privateKey, pubKeyHash, address, int64(inputValue)); err != nil {
		return "", fmt.Errorf("bitcoin: sign input: %w", err)
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("bitcoin: serialize transaction: %w", err)
	}

	rawTxHex := hex.EncodeToString(buf.Bytes())

	var txid string
	rpcErr := c.call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txid)
	if rpcErr == nil {
		return txid, nil
	}
	if !c.rpcUnreachable(rpcErr) {
		return "", fmt.Errorf("bitcoin: broadcast: %w", rpcErr)
	}

	// Primary RPC unreachable: fall back to the public explorer's
	// transaction-submission API (§4.7 step 4).
	txid, explorerErr := c.broadcastViaExplorer(ctx, rawTxHex)
	if explorerErr != nil {
		return "", fmt.Errorf("bitcoin: broadcast: rpc unreachable (%v), explorer fallback failed: %w", rpcErr, explorerErr)
	}
	return txid, nil
}

// rpcUnreachable reports whether err indicates the primary RPC endpoint
// itself could not be reached, as opposed to the node rejecting the request.
func (c *BitcoinClient) rpcUnreachable(err error) bool {
	reason, _ := c.ClassifyError(err)
	return reason == "rpc-unreachable"
}

// broadcastViaExplorer submits rawTxHex to the mempool.space tx-submission
// API for this client's network, returning the txid mempool.space echoes
// back on success (§4.7 step 4 RPC failover).
func (c *BitcoinClient) broadcastViaExplorer(ctx context.Context, rawTxHex string) (string, error) {
	if c.explorerTxURL == "" {
		return "", errors.New("bitcoin: no explorer fallback configured for this network")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.explorerTxURL, strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("explorer submission failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *BitcoinClient) signInput(tx *wire.MsgTx, idx int, privateKey *btcec.PrivateKey, pubKeyHash []byte, address btcutil.Address, value int64) error {
	prevFetcher := txscript.NewCannedPrevOutputFetcher(scriptForAddress(pubKeyHash), value)
	sigHashes := txscript.NewTxSigHashes(tx, prevFetcher)

	script, err := txscript.PayToAddrScript(address)
	if err != nil {
		return err
	}
	witness, err := txscript.WitnessSignature(tx, sigHashes, idx, value, script, txscript.SigHashAll, privateKey, true)
	if err != nil {
		return err
	}
	tx.TxIn[idx].Witness = witness
	return nil
}

func scriptForAddress(pubKeyHash []byte) []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pubKeyHash).
		Script()
	return script
}

// Confirmations reports whether txHash has an assigned block height via
// gettransaction.
func (c *BitcoinClient) Confirmations(ctx context.Context, txHash string) (*uint64, bool, error) {
	var result struct {
		Confirmations int64   `json:"confirmations"`
		BlockHeight   *uint64 `json:"blockheight"`
	}
	if err := c.call(ctx, "gettransaction", []interface{}{txHash}, &result); err != nil {
		return nil, false, err
	}
	if result.Confirmations <= 0 || result.BlockHeight == nil {
		return nil, false, nil
	}
	return result.BlockHeight, true, nil
}

func (c *BitcoinClient) ClassifyError(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient"):
		return "insufficient-funds", "fund the configured Bitcoin address with spendable UTXOs"
	case strings.Contains(msg, "decode wif") || strings.Contains(msg, "invalid private key"):
		return "invalid-key", "check BITCOIN_PRIVATE_KEY is a valid WIF-encoded key for the configured network"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "eof"):
		return "rpc-unreachable", "check BITCOIN_RPC_URL and node connectivity"
	case strings.Contains(msg, "min relay fee") || strings.Contains(msg, "bad-txns") ||
		strings.Contains(msg, "already in block chain") || strings.Contains(msg, "txn-mempool-conflict"):
		return "rejected-by-network", "the network rejected the transaction; it will be retried with fresh inputs"
	default:
		return "unknown", "see the wrapped error for detail"
	}
}

func (c *BitcoinClient) estimateFeeRate(ctx context.Context) (int64, error) {
	var result struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := c.call(ctx, "estimatesmartfee", []interface{}{6}, &result); err != nil {
		return 0, err
	}
	if result.FeeRate <= 0 || len(result.Errors) > 0 {
		return 0, fmt.Errorf("bitcoin: estimatesmartfee returned no estimate")
	}
	// feerate is BTC/kvB; convert to sat/vbyte.
	return int64(result.FeeRate * btcutil.SatoshiPerBitcoin / 1000), nil
}

func (c *BitcoinClient) defaultFeeRate() int64 {
	if c.network == &chaincfg.MainNetParams {
		return defaultMainnetFeeRate
	}
	return defaultTestnetFeeRate
}

func (c *BitcoinClient) listUnspent(ctx context.Context, address btcutil.Address) ([]utxo, error) {
	var result []utxo
	addrs := []string{address.EncodeAddress()}
	if err := c.call(ctx, "listunspent", []interface{}{1, 9999999, addrs}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs a JSON-RPC request against the configured bitcoind-compatible
// endpoint, the minimal client this package needs in place of the
// rpcclient module the reference pack never declares.
func (c *BitcoinClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "pohw-registry-node", Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if u, err := url.Parse(c.rpcURL); err == nil && u.User != nil {
		password, _ := u.User.Password()
		req.SetBasicAuth(u.User.Username(), password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("bitcoin: decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("bitcoin: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
