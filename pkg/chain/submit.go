// Copyright 2025 Ceramic Network

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	mh "github.com/multiformats/go-multihash"
	"github.com/ipfs/go-cid"
)

// Submit anchors root on-chain exactly once from this CAS instance's point
// of view, per spec.md §4.5. Callers are expected to hold the transaction
// mutex for the duration of this call.
func (c *Client) Submit(ctx context.Context, root cid.Cid) (*cas.Transaction, error) {
	networkID, err := c.eth.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch network id: %w", err)
	}
	if networkID.Cmp(c.chainID) != 0 {
		return nil, fmt.Errorf("%w: provider reports %s, configured for %s", cas.ErrWrongChain, networkID, c.chainID)
	}

	to, data, err := c.buildCallData(root)
	if err != nil {
		return nil, err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.fromAddress)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch nonce: %w", err)
	}

	var (
		prevPriority *big.Int
		prevGasPrice *big.Int
		sentHashes   []common.Hash
	)

	for attempt := 0; attempt < c.maxFeeBumpAttempts; attempt++ {
		fee, err := c.estimateFee(ctx, attempt, prevPriority, prevGasPrice)
		if err != nil {
			return nil, fmt.Errorf("chain: estimate fee: %w", err)
		}

		gasLimit, err := c.resolveGasLimit(ctx, to, data, fee)
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas limit: %w", err)
		}

		costCap := fee.costCap()
		if err := c.checkSufficientFunds(ctx, gasLimit, costCap); err != nil {
			return nil, err
		}

		signedTx, err := c.signTx(nonce, to, data, gasLimit, fee)
		if err != nil {
			return nil, fmt.Errorf("chain: sign transaction: %w", err)
		}

		if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
			if isNonceExpired(err) {
				if txn, ok := c.confirmAny(ctx, sentHashes); ok {
					return txn, nil
				}
				nonce, err = c.eth.PendingNonceAt(ctx, c.fromAddress)
				if err != nil {
					return nil, fmt.Errorf("chain: refresh nonce after nonce expiry: %w", err)
				}
				continue
			}
			if isInsufficientFunds(err) {
				return nil, fmt.Errorf("%w: %v", cas.ErrInsufficientFunds, err)
			}
			c.logger.Printf("send attempt %d failed: %v", attempt, err)
			prevPriority, prevGasPrice = fee.priority, fee.gasPrice
			continue
		}

		sentHashes = append(sentHashes, signedTx.Hash())

		waitCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
		txn, err := c.waitAndBuildTransaction(waitCtx, signedTx.Hash())
		cancel()
		if err == nil {
			return txn, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Printf("attempt %d timed out waiting for receipt of %s, retrying with same nonce and bumped fee", attempt, signedTx.Hash())
			prevPriority, prevGasPrice = fee.priority, fee.gasPrice
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts", cas.ErrSubmissionFailed, c.maxFeeBumpAttempts)
}

func (c *Client) buildCallData(root cid.Cid) (common.Address, []byte, error) {
	if !c.useContractMode {
		return c.fromAddress, root.Bytes(), nil
	}

	decoded, err := mh.Decode(root.Hash())
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("chain: decode root multihash: %w", err)
	}
	var digest [32]byte
	copy(digest[:], decoded.Digest)

	data, err := c.contractABI.Pack("anchorDagCbor", digest)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("chain: pack anchorDagCbor call: %w", err)
	}
	return c.contractAddress, data, nil
}

// feeQuote is either an EIP-1559 (maxFee/priority) or legacy (gasPrice)
// fee, never both.
type feeQuote struct {
	eip1559  bool
	maxFee   *big.Int
	priority *big.Int
	gasPrice *big.Int
}

func (f feeQuote) costCap() *big.Int {
	if f.eip1559 {
		return f.maxFee
	}
	return f.gasPrice
}

// estimateFee applies the attempt-indexed bump via bumpedValue with
// c.feeBumpPercent (Config.FeeBumpPercent, 0.2 when unset) as the per-attempt
// factor: new = max(estimate*(1+feeBumpPercent*attempt), prev*1.10).
func (c *Client) estimateFee(ctx context.Context, attempt int, prevPriority, prevGasPrice *big.Int) (feeQuote, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err == nil && header.BaseFee != nil {
		tipEstimate, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return feeQuote{}, err
		}

		priority := bumpedValue(tipEstimate, prevPriority, attempt, c.feeBumpPercent)
		maxFee := new(big.Int).Add(header.BaseFee, priority)
		return feeQuote{eip1559: true, maxFee: maxFee, priority: priority}, nil
	}

	gasPriceEstimate, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return feeQuote{}, err
	}
	gasPrice := bumpedValue(gasPriceEstimate, prevGasPrice, attempt, c.feeBumpPercent)
	return feeQuote{gasPrice: gasPrice}, nil
}

// bumpedValue computes max(estimate*(1+bumpPercent*attempt), prev*1.10),
// falling back to estimate*(1+bumpPercent*attempt) when there is no prev.
func bumpedValue(estimate, prev *big.Int, attempt int, bumpPercent float64) *big.Int {
	scaled := scalePercent(estimate, 1+bumpPercent*float64(attempt))
	if prev == nil {
		return scaled
	}
	retried := scalePercent(prev, 1.10)
	if retried.Cmp(scaled) > 0 {
		return retried
	}
	return scaled
}

// scalePercent multiplies v by factor using basis-point integer math to
// avoid floating point on-chain-bound values.
func scalePercent(v *big.Int, factor float64) *big.Int {
	basisPoints := big.NewInt(int64(factor * 10_000))
	out := new(big.Int).Mul(v, basisPoints)
	return out.Div(out, big.NewInt(10_000))
}

func (c *Client) resolveGasLimit(ctx context.Context, to common.Address, data []byte, fee feeQuote) (uint64, error) {
	if c.overrideGasLimit {
		return c.gasLimit, nil
	}
	msg := ethereum.CallMsg{From: c.fromAddress, To: &to, Data: data}
	if fee.eip1559 {
		msg.GasFeeCap = fee.maxFee
		msg.GasTipCap = fee.priority
	} else {
		msg.GasPrice = fee.gasPrice
	}
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) checkSufficientFunds(ctx context.Context, gasLimit uint64, feeCap *big.Int) error {
	balance, err := c.eth.BalanceAt(ctx, c.fromAddress, nil)
	if err != nil {
		return fmt.Errorf("chain: fetch balance: %w", err)
	}
	cost := new(big.Int).Mul(big.NewInt(int64(gasLimit)), feeCap)
	if cost.Cmp(balance) > 0 {
		return fmt.Errorf("%w: need %s, have %s", cas.ErrInsufficientFunds, cost, balance)
	}
	return nil
}

func (c *Client) signTx(nonce uint64, to common.Address, data []byte, gasLimit uint64, fee feeQuote) (*types.Transaction, error) {
	var txData types.TxData
	if fee.eip1559 {
		txData = &types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			To:        &to,
			Value:     big.NewInt(0),
			Gas:       gasLimit,
			GasFeeCap: fee.maxFee,
			GasTipCap: fee.priority,
			Data:      data,
		}
	} else {
		txData = &types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(0),
			Gas:      gasLimit,
			GasPrice: fee.gasPrice,
			Data:     data,
		}
	}
	return types.SignNewTx(c.privateKey, c.signer, txData)
}

// waitAndBuildTransaction polls for a receipt until ctx is done, then
// verifies success and assembles the Transaction record.
func (c *Client) waitAndBuildTransaction(ctx context.Context, txHash common.Hash) (*cas.Transaction, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return c.buildTransaction(ctx, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: fetch receipt %s: %w", txHash, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) buildTransaction(ctx context.Context, receipt *types.Receipt) (*cas.Transaction, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", cas.ErrSubmissionFailed, receipt.TxHash)
	}
	block, err := c.eth.HeaderByHash(ctx, receipt.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch block %s: %w", receipt.BlockHash, err)
	}
	return &cas.Transaction{
		Chain:          fmt.Sprintf("eip155:%s", c.chainID),
		TxHash:         receipt.TxHash.Hex(),
		BlockNumber:    receipt.BlockNumber.Uint64(),
		BlockTimestamp: time.Unix(int64(block.Time), 0).UTC(),
	}, nil
}

// confirmAny walks previously sent transaction hashes newest-first looking
// for one that was actually mined, per spec.md §4.5's NonceExpired
// recovery step.
func (c *Client) confirmAny(ctx context.Context, hashes []common.Hash) (*cas.Transaction, bool) {
	for i := len(hashes) - 1; i >= 0; i-- {
		receipt, err := c.eth.TransactionReceipt(ctx, hashes[i])
		if err != nil {
			continue
		}
		txn, err := c.buildTransaction(ctx, receipt)
		if err != nil {
			continue
		}
		return txn, true
	}
	return nil, false
}

func isNonceExpired(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func isInsufficientFunds(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
