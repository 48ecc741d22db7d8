// Package ZKSRPC is the zkSync Lite client: REST for account history, JSON-RPC for
// fees, balances and transfers. Transfers are signed by an external signer service.
package ZKSRPC

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"
	logger "github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"gorelaybridge/types"
)

var (
	ErrAPI         = errors.New("zksync api error")
	ErrTxFailed    = errors.New("zksync transaction failed")
	ErrNotExecuted = errors.New("zksync transaction not executed yet")
	ErrNoSigner    = errors.New("zksync signer not configured")
)

type Config struct {
	Name string
	// RESTURL is the api root, e.g. https://api.zksync.io/api/v0.2
	RESTURL string
	// RPCURL is the JSON-RPC endpoint, e.g. https://api.zksync.io/jsrpc
	RPCURL string
	// SignerURL is the JSON-RPC endpoint of the transfer signer.
	SignerURL string
	// Account is the bridge account on zkSync, used as sender of outbound transfers.
	Account string
	// FeeToken is the token fees are paid and quoted in.
	FeeToken string
	// Tokens maps token ids to symbols; balances are keyed by symbol.
	Tokens      map[string]string
	Timeout     time.Duration
	ReceiptPoll time.Duration
}

type Client struct {
	cfg    *Config
	http   *http.Client
	rpc    jsonrpc.RPCClient
	signer jsonrpc.RPCClient
}

func NewClient(cfg *Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 3 * time.Second
	}
	if cfg.FeeToken == "" {
		cfg.FeeToken = "ETH"
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	c := &Client{
		cfg:  cfg,
		http: httpClient,
		rpc:  jsonrpc.NewClientWithOpts(cfg.RPCURL, &jsonrpc.RPCClientOpts{HTTPClient: httpClient}),
	}
	if cfg.SignerURL != "" {
		c.signer = jsonrpc.NewClientWithOpts(cfg.SignerURL, &jsonrpc.RPCClientOpts{HTTPClient: httpClient})
	}
	return c
}

func (c *Client) Name() string {
	return c.cfg.Name
}

// symbol resolves a token id to the symbol balances are keyed by.
func (c *Client) symbol(asset string) string {
	if s, ok := c.cfg.Tokens[asset]; ok {
		return s
	}
	return asset
}

type apiResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		ErrorType string `json:"errorType"`
		Code      int    `json:"code"`
		Message   string `json:"message"`
	} `json:"error"`
}

type txList struct {
	List []apiTx `json:"list"`
}

type apiTx struct {
	TxHash    string `json:"txHash"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	Op        struct {
		Type   string          `json:"type"`
		From   string          `json:"from"`
		To     string          `json:"to"`
		Token  json.RawMessage `json:"token"`
		Amount string          `json:"amount"`
	} `json:"op"`
}

// ListRecentTransfers returns the latest account transactions, newest first.
func (c *Client) ListRecentTransfers(ctx context.Context, address string, limit int) ([]*types.ObservedTransfer, error) {
	q := url.Values{}
	q.Set("from", "latest")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", "older")
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?%s", strings.TrimRight(c.cfg.RESTURL, "/"), address, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zksync account transactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrAPI, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode account transactions: %w", err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrAPI, body.Error.Message)
	}

	var list txList
	if err := json.Unmarshal(body.Result, &list); err != nil {
		return nil, fmt.Errorf("decode account transactions: %w", err)
	}

	out := make([]*types.ObservedTransfer, 0, len(list.List))
	for _, tx := range list.List {
		tr, err := tx.observed()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// observed converts an account history entry. A transfer whose time or amount cannot be
// read fails the whole page so it is retried instead of being judged on zero values.
func (tx apiTx) observed() (*types.ObservedTransfer, error) {
	tr := &types.ObservedTransfer{
		ID:       tx.TxHash,
		Kind:     types.KindOther,
		Sender:   tx.Op.From,
		Receiver: tx.Op.To,
		Asset:    strings.Trim(string(tx.Op.Token), `"`),
		Amount:   new(big.Int),
		Status:   txStatus(tx.Status),
		Raw:      tx,
	}
	if strings.EqualFold(tx.Op.Type, "Transfer") {
		tr.Kind = types.KindTransfer
	}
	ts, err := time.Parse(time.RFC3339Nano, tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s createdAt %q: %v", ErrAPI, tx.TxHash, tx.CreatedAt, err)
	}
	tr.ObservedAt = types.Position{Timestamp: ts}

	if amount, ok := new(big.Int).SetString(tx.Op.Amount, 10); ok {
		tr.Amount = amount
	} else if tr.Kind == types.KindTransfer {
		return nil, fmt.Errorf("%w: tx %s amount %q", ErrAPI, tx.TxHash, tx.Op.Amount)
	}
	return tr, nil
}

func txStatus(s string) types.TransferStatus {
	switch strings.ToLower(s) {
	case "committed":
		return types.StatusCommitted
	case "finalized":
		return types.StatusFinalized
	case "rejected":
		return types.StatusRejected
	}
	return types.StatusPending
}

type accountInfo struct {
	Committed struct {
		Balances map[string]string `json:"balances"`
		Nonce    uint32            `json:"nonce"`
	} `json:"committed"`
}

func (c *Client) accountInfo(address string) (*accountInfo, error) {
	var info accountInfo
	if err := c.rpc.CallFor(&info, "account_info", address); err != nil {
		return nil, fmt.Errorf("account_info: %w", err)
	}
	return &info, nil
}

// Balance reads the committed balance of asset.
func (c *Client) Balance(_ context.Context, address, asset string) (*big.Int, error) {
	info, err := c.accountInfo(address)
	if err != nil {
		return nil, err
	}
	raw, ok := info.Committed.Balances[c.symbol(asset)]
	if !ok {
		return new(big.Int), nil
	}
	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad balance %q", ErrAPI, raw)
	}
	return bal, nil
}

type txFee struct {
	TotalFee string `json:"totalFee"`
}

func (c *Client) transferFee(to, token string) (*big.Int, error) {
	var fee txFee
	if err := c.rpc.CallFor(&fee, "get_tx_fee", "Transfer", to, token); err != nil {
		return nil, fmt.Errorf("get_tx_fee: %w", err)
	}
	total, ok := new(big.Int).SetString(fee.TotalFee, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad fee %q", ErrAPI, fee.TotalFee)
	}
	return total, nil
}

// FeeRate is the fee of one transfer paid in the fee token.
func (c *Client) FeeRate(_ context.Context) (*big.Int, error) {
	return c.transferFee(c.cfg.Account, c.cfg.FeeToken)
}

type signRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	FeeToken string `json:"feeToken"`
	Fee      string `json:"fee"`
	Nonce    uint32 `json:"nonce"`
}

type signedTransfer struct {
	Tx           json.RawMessage `json:"tx"`
	EthSignature json.RawMessage `json:"ethSignature"`
}

// Submit sends amount of asset to to from the bridge account. ExecParams carry no
// meaning on zkSync and are ignored.
func (c *Client) Submit(_ context.Context, to, asset string, amount *big.Int, _ types.ExecParams) (string, error) {
	if c.signer == nil {
		return "", ErrNoSigner
	}

	fee, err := c.transferFee(to, c.cfg.FeeToken)
	if err != nil {
		return "", err
	}
	info, err := c.accountInfo(c.cfg.Account)
	if err != nil {
		return "", err
	}

	var signed signedTransfer
	err = c.signer.CallFor(&signed, "sign_transfer", &signRequest{
		From:     c.cfg.Account,
		To:       to,
		Token:    c.symbol(asset),
		Amount:   amount.String(),
		FeeToken: c.cfg.FeeToken,
		Fee:      fee.String(),
		Nonce:    info.Committed.Nonce,
	})
	if err != nil {
		return "", fmt.Errorf("sign_transfer: %w", err)
	}

	var hash string
	if err := c.rpc.CallFor(&hash, "tx_submit", signed.Tx, signed.EthSignature, false); err != nil {
		return "", fmt.Errorf("tx_submit: %w", err)
	}

	logger.WithFields(logger.Fields{
		"chain":  c.cfg.Name,
		"tx":     hash,
		"to":     to,
		"asset":  asset,
		"amount": amount.String(),
		"fee":    fee.String(),
	}).Info("zksync transfer submitted")
	return hash, nil
}

func (c *Client) SubmitTransfer(ctx context.Context, to, asset string, amount *big.Int) (string, error) {
	return c.Submit(ctx, to, asset, amount, types.ExecParams{})
}

type txInfo struct {
	Executed   bool    `json:"executed"`
	Success    *bool   `json:"success"`
	FailReason *string `json:"failReason"`
	Block      *struct {
		BlockNumber int64 `json:"blockNumber"`
		Committed   bool  `json:"committed"`
		Verified    bool  `json:"verified"`
	} `json:"block"`
}

// receiptState reports whether the tx reached the wanted depth: one confirmation is a
// committed block, more need the block verified on L1.
func receiptState(info *txInfo, confirmations int) error {
	if !info.Executed {
		return ErrNotExecuted
	}
	if info.Success != nil && !*info.Success {
		reason := ""
		if info.FailReason != nil {
			reason = *info.FailReason
		}
		return fmt.Errorf("%w: %s", ErrTxFailed, reason)
	}
	if info.Block == nil || !info.Block.Committed {
		return ErrNotExecuted
	}
	if confirmations > 1 && !info.Block.Verified {
		return ErrNotExecuted
	}
	return nil
}

// WaitForConfirmation polls tx_info until the transfer is in a committed (or, for more
// than one confirmation, verified) block.
func (c *Client) WaitForConfirmation(ctx context.Context, handle string, confirmations int) error {
	b := retry.NewConstant(c.cfg.ReceiptPoll)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		var info txInfo
		if err := c.rpc.CallFor(&info, "tx_info", handle); err != nil {
			logger.WithField("chain", c.cfg.Name).Warnf("tx_info %s: %v", handle, err)
			return retry.RetryableError(err)
		}
		err := receiptState(&info, confirmations)
		if errors.Is(err, ErrNotExecuted) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) AwaitReceipt(ctx context.Context, handle string) error {
	return c.WaitForConfirmation(ctx, handle, 1)
}
