package withdrawal

import "github.com/chainbridge-go/erc20minter/internal/units"

// BuildTransactionFee computes the fee fields for a brand-new transaction
//:
//
//	max_fee_per_gas = allowed_max_transaction_fee / gas_limit
//	max_priority_fee_per_gas = estimate.max_priority_fee_per_gas
//
// This pays the full pre-approved budget up front to maximise inclusion
// probability under EIP-1559 cap semantics. If the network's current
// minimum acceptable max fee per gas exceeds what the budget allows,
// creation fails with InsufficientFee.
func BuildTransactionFee(id ID, allowedMaxFee, gasLimit units.Amount, estimate GasFeeEstimate) (maxFeePerGas, maxPriorityFeePerGas units.Amount, err error) {
	gasLimitAsWei := units.ChangeUnits(gasLimit, units.TagWei)
	perGas, divErr := units.Div(allowedMaxFee, gasLimitAsWei)
	if divErr != nil {
		return units.Amount{}, units.Amount{}, InsufficientFee{ID: id, Allowed: allowedMaxFee, Actual: allowedMaxFee}
	}
	if units.Gt(estimate.MinMaxFeePerGas(), perGas) {
		return units.Amount{}, units.Amount{}, InsufficientFee{
			ID:      id,
			Allowed: allowedMaxFee,
			Actual:  estimate.MinMaxFeePerGas(),
		}
	}
	return perGas, estimate.MaxPriorityFeePerGas, nil
}

func (InsufficientFee) Error() string { return "withdrawal: insufficient transaction fee" }

// bumpFee applies the resubmission policy's fee-bump floor: at least +10%
// over the previously sent max_fee_per_gas, or the current network
// estimate, whichever is higher.
func bumpFee(previous, estimateMaxFeePerGas units.Amount) (units.Amount, error) {
	tenPercent, err := units.Div(previous, units.New(units.TagWei, 10))
	if err != nil {
		return units.Amount{}, err
	}
	floor, err := units.CheckedAdd(previous, tenPercent)
	if err != nil {
		return units.Amount{}, err
	}
	if units.Gt(estimateMaxFeePerGas, floor) {
		return estimateMaxFeePerGas, nil
	}
	return floor, nil
}

// bumpedFeeWithinBudget computes the candidate bumped max_fee_per_gas and
// checks it against the withdrawal's pre-paid budget, returning
// InsufficientFee if the bump would exceed it.
func bumpedFeeWithinBudget(id ID, nonce uint64, previous units.Amount, gasLimit units.Amount, allowedMaxFee units.Amount, estimate GasFeeEstimate) (units.Amount, error) {
	bumped, err := bumpFee(previous, estimate.MaxFeePerGas)
	if err != nil {
		return units.Amount{}, err
	}
	gasLimitAsWei := units.ChangeUnits(gasLimit, units.TagWei)
	total, err := units.Mul(bumped, gasLimitAsWei)
	if err != nil {
		return units.Amount{}, InsufficientFee{ID: id, Nonce: nonce, Allowed: allowedMaxFee, Actual: allowedMaxFee}
	}
	if units.Gt(total, allowedMaxFee) {
		return units.Amount{}, InsufficientFee{ID: id, Nonce: nonce, Allowed: allowedMaxFee, Actual: total}
	}
	return bumped, nil
}
