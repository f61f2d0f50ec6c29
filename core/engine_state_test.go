package core

import (
	"errors"
	"strings"
	"testing"
)

// ------------------------------------------------------------
// Fixtures
// ------------------------------------------------------------

var (
	testAccountA = PublicKey{0xA1}
	testTargetB  = func() PublicKey {
		var pk PublicKey
		for i := range pk {
			pk[i] = 7
		}
		return pk
	}()
	testVersion = ProtocolVersion{Major: 1}
)

const testInitialBalance = 1_000_000_000

// scriptedExecutor routes phases to test closures; the production wasmer
// path is exercised separately. Nil handlers succeed with no effects.
type scriptedExecutor struct {
	payment func(p ExecParams) ExecutionResult
	session func(p ExecParams) ExecutionResult
}

func (x *scriptedExecutor) Exec(p ExecParams) ExecutionResult {
	switch p.Phase {
	case PhasePayment:
		if x.payment != nil {
			return x.payment(p)
		}
	case PhaseSession:
		if x.session != nil {
			return x.session(p)
		}
	}
	return SuccessResult(p.TrackingCopy.Effect(), NewGas(0))
}

func newTestEngine(t *testing.T, executor Executor) (*EngineState, Blake2bHash) {
	t.Helper()
	state := newTestGlobalState(t)
	engine := NewEngineState(state, executor, EngineConfig{}, testLogger(), nil)
	result, err := engine.CommitGenesis(NewCorrelationId(), GenesisConfig{
		ChainName:       "engine-test",
		Timestamp:       1_600_000_000,
		ProtocolVersion: testVersion,
		WasmCosts:       DefaultWasmCosts(),
		Accounts: []GenesisAccount{
			{PublicKey: testAccountA, Balance: NewMotes(testInitialBalance)},
			{PublicKey: PublicKey{0xB2}, Balance: NewMotes(5_000), BondedAmount: NewMotes(1_000)},
		},
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return engine, result.PostStateHash
}

func standardPaymentArgs(amount uint64) [][]byte {
	return [][]byte{ValueToBytes(BigUintValue{Val: NewU512(amount)})}
}

func testDeploy(session ExecutableDeployItem, paymentAmount uint64) DeployItem {
	return DeployItem{
		Address:           testAccountA,
		Session:           session,
		Payment:           ModuleBytesItem(nil, standardPaymentArgs(paymentAmount)),
		GasPrice:          1,
		AuthorizationKeys: map[PublicKey]struct{}{testAccountA: {}},
		DeployHash:        NewBlake2bHash([]byte("deploy-1")),
	}
}

func accountBalanceAt(t *testing.T, engine *EngineState, root Blake2bHash, pk PublicKey) Motes {
	t.Helper()
	reader, ok, err := engine.State().Checkout(root)
	if err != nil || !ok {
		t.Fatalf("checkout: ok=%v err=%v", ok, err)
	}
	tc := NewTrackingCopy(reader)
	account, err := tc.GetAccount(pk)
	if err != nil {
		t.Fatalf("account %x: %v", pk[:2], err)
	}
	data, found, err := engine.State().GetProtocolData(testVersion)
	if err != nil || !found {
		t.Fatalf("protocol data: %v", err)
	}
	balanceKey, err := tc.GetPurseBalanceKey(data.Mint, account.MainPurse.Key())
	if err != nil {
		t.Fatalf("balance key: %v", err)
	}
	balance, err := tc.GetPurseBalance(balanceKey)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func rewardsBalanceAt(t *testing.T, engine *EngineState, root Blake2bHash) Motes {
	t.Helper()
	reader, ok, err := engine.State().Checkout(root)
	if err != nil || !ok {
		t.Fatalf("checkout: ok=%v err=%v", ok, err)
	}
	tc := NewTrackingCopy(reader)
	data, _, err := engine.State().GetProtocolData(testVersion)
	if err != nil {
		t.Fatalf("protocol data: %v", err)
	}
	contract, err := tc.GetContract(data.ProofOfStake.Key())
	if err != nil {
		t.Fatalf("pos contract: %v", err)
	}
	rewardsKey := contract.NamedKeys[PosRewardsPurseName]
	balanceKey, err := tc.GetPurseBalanceKey(data.Mint, rewardsKey)
	if err != nil {
		t.Fatalf("rewards key: %v", err)
	}
	balance, err := tc.GetPurseBalance(balanceKey)
	if err != nil {
		t.Fatalf("rewards balance: %v", err)
	}
	return balance
}

func commitDeploy(t *testing.T, engine *EngineState, root Blake2bHash, result ExecutionResult) Blake2bHash {
	t.Helper()
	commit, err := engine.ApplyEffect(NewCorrelationId(), testVersion, root, result.Effect.Transforms)
	if err != nil {
		t.Fatalf("apply effect: %v", err)
	}
	if commit.Tag != CommitResultSuccess {
		t.Fatalf("commit tag = %d", commit.Tag)
	}
	return commit.NewRoot
}

func runSingleDeploy(t *testing.T, engine *EngineState, root Blake2bHash, deploy DeployItem) ExecutionResult {
	t.Helper()
	results, err := engine.RunExecute(NewCorrelationId(), ExecuteRequest{
		ParentStateHash: root,
		BlockTime:       42,
		ProtocolVersion: testVersion,
		Deploys:         []DeployItem{deploy},
	})
	if err != nil {
		t.Fatalf("run execute: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("result count = %d", len(results))
	}
	return results[0]
}

// ------------------------------------------------------------
// Genesis
// ------------------------------------------------------------

func TestGenesisInstallsAccountsAndSystemContracts(t *testing.T) {
	engine, root := newTestEngine(t, &scriptedExecutor{})

	if balance := accountBalanceAt(t, engine, root, testAccountA); balance.Cmp(NewMotes(testInitialBalance)) != 0 {
		t.Fatalf("account A balance = %s", balance)
	}

	data, found, err := engine.State().GetProtocolData(testVersion)
	if err != nil || !found {
		t.Fatalf("protocol data missing: %v", err)
	}
	reader, _, _ := engine.State().Checkout(root)
	tc := NewTrackingCopy(reader)
	for _, ref := range []URef{data.Mint, data.ProofOfStake, data.StandardPayment} {
		if _, err := tc.GetContract(ref.Key()); err != nil {
			t.Fatalf("system contract missing at %s: %v", ref, err)
		}
	}

	// Accounts carry attenuated handles on the system contracts.
	account, err := tc.GetAccount(testAccountA)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	mintKey := account.NamedKeys[MintName]
	if uref, ok := mintKey.AsURef(); !ok || uref.Rights != AccessRightsRead {
		t.Fatalf("mint named key should be read-only, got %v", mintKey)
	}
}

func TestGenesisIsDeterministic(t *testing.T) {
	_, root1 := newTestEngine(t, &scriptedExecutor{})
	_, root2 := newTestEngine(t, &scriptedExecutor{})
	if root1 != root2 {
		t.Fatalf("genesis roots differ: %s vs %s", root1, root2)
	}
}

func TestBondedValidatorsSurfaceOnCommit(t *testing.T) {
	engine, root := newTestEngine(t, &scriptedExecutor{})
	key := URefKey([32]byte{0xCC}, AccessRightsNone)
	commit, err := engine.ApplyEffect(NewCorrelationId(), testVersion, root, map[Key]Transform{
		key: WriteTransform(Int32Value(1)),
	})
	if err != nil || commit.Tag != CommitResultSuccess {
		t.Fatalf("commit: tag=%d err=%v", commit.Tag, err)
	}
	stake, ok := commit.BondedValidators[PublicKey{0xB2}]
	if !ok || stake.Cmp(NewU512(1_000)) != 0 {
		t.Fatalf("bonded validators = %v", commit.BondedValidators)
	}
}

// ------------------------------------------------------------
// Preconditions
// ------------------------------------------------------------

func TestDeployUnknownRootAbortsBatch(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedExecutor{})
	_, err := engine.RunExecute(NewCorrelationId(), ExecuteRequest{
		ParentStateHash: NewBlake2bHash([]byte("missing")),
		ProtocolVersion: testVersion,
		Deploys:         []DeployItem{testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000)},
	})
	var rootErr RootNotFoundError
	if !errors.As(err, &rootErr) {
		t.Fatalf("expected RootNotFound, got %v", err)
	}
}

func TestDeployAuthorizationFailures(t *testing.T) {
	engine, root := newTestEngine(t, &scriptedExecutor{})

	tests := []struct {
		name     string
		mutate   func(*DeployItem)
		wantErr  error
	}{
		{"UnknownAccount", func(d *DeployItem) { d.Address = PublicKey{0xFF} }, ErrAuthorization},
		{"UnassociatedKey", func(d *DeployItem) {
			d.AuthorizationKeys = map[PublicKey]struct{}{{0xFF}: {}}
		}, ErrAuthorization},
		{"EmptyKeys", func(d *DeployItem) {
			d.AuthorizationKeys = map[PublicKey]struct{}{}
		}, ErrAuthorization},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deploy := testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000)
			tc.mutate(&deploy)
			result := runSingleDeploy(t, engine, root, deploy)
			if !result.Failed || !errors.Is(result.Err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", result.Err, tc.wantErr)
			}
			if !result.Cost.IsZero() || len(result.Effect.Transforms) != 0 {
				t.Fatalf("precondition failures must carry no cost and no effects")
			}
		})
	}
}

// Scenario: account below the MaxPayment floor. No effects, no forced
// transfer — there is not enough balance to force.
func TestInsufficientPaymentFloor(t *testing.T) {
	executor := &scriptedExecutor{}
	state := newTestGlobalState(t)
	engine := NewEngineState(state, executor, EngineConfig{}, testLogger(), nil)
	genesis, err := engine.CommitGenesis(NewCorrelationId(), GenesisConfig{
		ChainName:       "floor-test",
		Timestamp:       1,
		ProtocolVersion: testVersion,
		WasmCosts:       DefaultWasmCosts(),
		Accounts: []GenesisAccount{
			{PublicKey: testAccountA, Balance: NewMotes(MaxPayment - 1)},
		},
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	result := runSingleDeploy(t, engine, genesis.PostStateHash, testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000))
	if !result.Failed || !errors.Is(result.Err, ErrInsufficientPayment) {
		t.Fatalf("err = %v, want InsufficientPayment", result.Err)
	}
	if len(result.Effect.Transforms) != 0 || !result.Cost.IsZero() {
		t.Fatalf("floor failure must not move funds")
	}
}

// ------------------------------------------------------------
// Payment failure: forced transfer
// ------------------------------------------------------------

// Scenario: payment runs out of gas. MaxPayment moves from the account main
// purse to the rewards purse; nothing else changes.
func TestPaymentGasLimitForcesTransfer(t *testing.T) {
	executor := &scriptedExecutor{
		payment: func(p ExecParams) ExecutionResult {
			return FailureResult(ErrGasLimit, p.TrackingCopy.Effect(), p.GasLimit)
		},
		session: func(p ExecParams) ExecutionResult {
			t.Fatalf("session must not run after payment failure")
			return ExecutionResult{}
		},
	}
	engine, root := newTestEngine(t, executor)

	deploy := testDeploy(ModuleBytesItem([]byte{0xFE}, nil), 100_000)
	deploy.Payment = ModuleBytesItem([]byte{0xFD}, nil) // non-empty: scripted payment path
	result := runSingleDeploy(t, engine, root, deploy)

	if !result.Failed || !errors.Is(result.Err, ErrGasLimit) {
		t.Fatalf("err = %v, want GasLimit", result.Err)
	}
	wantCost := GasFromMotes(NewMotes(MaxPayment), ConvRate)
	if result.Cost.Cmp(wantCost) != 0 {
		t.Fatalf("cost = %s, want %s", result.Cost, wantCost)
	}

	next := commitDeploy(t, engine, root, result)
	balance := accountBalanceAt(t, engine, next, testAccountA)
	want := NewMotes(testInitialBalance - MaxPayment)
	if balance.Cmp(want) != 0 {
		t.Fatalf("account balance = %s, want %s", balance, want)
	}
	rewards := rewardsBalanceAt(t, engine, next)
	if rewards.Cmp(NewMotes(MaxPayment)) != 0 {
		t.Fatalf("rewards balance = %s, want %d", rewards, MaxPayment)
	}
}

// ------------------------------------------------------------
// Session semantics
// ------------------------------------------------------------

// Scenario: payment succeeds, session reverts. Payment and finalize effects
// survive, session effects are discarded, the error carries the exit code.
func TestSessionRevertKeepsPaymentEffects(t *testing.T) {
	sessionMark := URefKey([32]byte{0xD1}, AccessRightsNone)
	executor := &scriptedExecutor{
		session: func(p ExecParams) ExecutionResult {
			p.TrackingCopy.Write(sessionMark, Int32Value(1))
			return FailureResult(RevertError{Code: 65636}, p.TrackingCopy.Effect(), NewGas(400))
		},
	}
	engine, root := newTestEngine(t, executor)
	result := runSingleDeploy(t, engine, root, testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000))

	if !result.Failed {
		t.Fatalf("revert must fail the deploy")
	}
	if !strings.Contains(result.Message(), "Exit code: 65636") {
		t.Fatalf("message = %q", result.Message())
	}
	if _, marked := result.Effect.Transforms[sessionMark]; marked {
		t.Fatalf("session effects must be discarded")
	}

	next := commitDeploy(t, engine, root, result)
	totalMotes, _ := MotesFromGas(result.Cost, ConvRate)
	wantBalance, _ := NewMotes(testInitialBalance).Sub(totalMotes)
	if balance := accountBalanceAt(t, engine, next, testAccountA); balance.Cmp(wantBalance) != 0 {
		t.Fatalf("account balance = %s, want %s (cost charged, remainder refunded)", balance, wantBalance)
	}
	if rewards := rewardsBalanceAt(t, engine, next); rewards.Cmp(totalMotes) != 0 {
		t.Fatalf("rewards = %s, want %s", rewards, totalMotes)
	}
}

// Scenario: transfer to a fresh account. The target comes into existence
// with the transferred amount; the sender pays transfer plus fees.
func TestTransferToNewAccount(t *testing.T) {
	const transferAmount = 1_000
	var transferResult TransferResult
	executor := &scriptedExecutor{
		session: func(p ExecParams) ExecutionResult {
			mint := newHostMint(p.TrackingCopy, p.ProtocolData, NewAddressGenerator(
				p.Account.PublicKey, p.BlockTime, p.Account.Nonce, p.DeployHash, p.Phase))
			res, err := mint.TransferToAccount(p.Account.MainPurse, testTargetB, NewMotes(transferAmount))
			if err != nil {
				return FailureResult(err, p.TrackingCopy.Effect(), NewGas(250))
			}
			transferResult = res
			return SuccessResult(p.TrackingCopy.Effect(), NewGas(250))
		},
	}
	engine, root := newTestEngine(t, executor)
	result := runSingleDeploy(t, engine, root, testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000))
	if result.Failed {
		t.Fatalf("deploy failed: %v", result.Err)
	}
	if transferResult != TransferredToNewAccount {
		t.Fatalf("transfer result = %d, want NewAccount", transferResult)
	}

	next := commitDeploy(t, engine, root, result)
	if balance := accountBalanceAt(t, engine, next, testTargetB); balance.Cmp(NewMotes(transferAmount)) != 0 {
		t.Fatalf("target balance = %s, want %d", balance, transferAmount)
	}
	totalMotes, _ := MotesFromGas(result.Cost, ConvRate)
	spent, _ := totalMotes.Add(NewMotes(transferAmount))
	wantBalance, _ := NewMotes(testInitialBalance).Sub(spent)
	if balance := accountBalanceAt(t, engine, next, testAccountA); balance.Cmp(wantBalance) != 0 {
		t.Fatalf("sender balance = %s, want %s", balance, wantBalance)
	}

	// Re-running the transfer against the new root finds the account.
	result2 := runSingleDeploy(t, engine, next, testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000))
	if result2.Failed {
		t.Fatalf("second deploy failed: %v", result2.Err)
	}
	if transferResult != TransferredToExistingAccount {
		t.Fatalf("second transfer result = %d, want ExistingAccount", transferResult)
	}
}

// Determinism: the same request against the same prestate yields identical
// effects and an identical post-state hash.
func TestDeployDeterminism(t *testing.T) {
	makeExecutor := func() Executor {
		return &scriptedExecutor{
			session: func(p ExecParams) ExecutionResult {
				mint := newHostMint(p.TrackingCopy, p.ProtocolData, NewAddressGenerator(
					p.Account.PublicKey, p.BlockTime, p.Account.Nonce, p.DeployHash, p.Phase))
				if _, err := mint.TransferToAccount(p.Account.MainPurse, testTargetB, NewMotes(5)); err != nil {
					return FailureResult(err, p.TrackingCopy.Effect(), NewGas(10))
				}
				return SuccessResult(p.TrackingCopy.Effect(), NewGas(10))
			},
		}
	}

	engine1, root1 := newTestEngine(t, makeExecutor())
	engine2, root2 := newTestEngine(t, makeExecutor())
	if root1 != root2 {
		t.Fatalf("genesis differs")
	}

	deploy := testDeploy(ModuleBytesItem([]byte{1}, nil), 100_000)
	result1 := runSingleDeploy(t, engine1, root1, deploy)
	result2 := runSingleDeploy(t, engine2, root2, deploy)
	next1 := commitDeploy(t, engine1, root1, result1)
	next2 := commitDeploy(t, engine2, root2, result2)
	if next1 != next2 {
		t.Fatalf("post-state hashes diverge: %s vs %s", next1, next2)
	}
}

// ------------------------------------------------------------
// Upgrades
// ------------------------------------------------------------

func TestCommitUpgradeVersionGating(t *testing.T) {
	engine, root := newTestEngine(t, &scriptedExecutor{})

	tests := []struct {
		name    string
		next    ProtocolVersion
		install []byte
		wantErr bool
	}{
		{"PatchBump", ProtocolVersion{Major: 1, Patch: 1}, nil, false},
		{"MinorBump", ProtocolVersion{Major: 1, Minor: 1}, nil, false},
		{"MajorWithoutInstaller", ProtocolVersion{Major: 2}, nil, true},
		{"SkipVersion", ProtocolVersion{Major: 3}, nil, true},
		{"SameVersion", ProtocolVersion{Major: 1}, nil, true},
		{"Backwards", ProtocolVersion{Major: 0, Minor: 9}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := engine.CommitUpgrade(NewCorrelationId(), UpgradeConfig{
				PreStateHash:           root,
				CurrentProtocolVersion: testVersion,
				NewProtocolVersion:     tc.next,
				UpgradeInstallerBytes:  tc.install,
			})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("upgrade: %v", err)
			}
			if result.Tag != UpgradeResultSuccess {
				t.Fatalf("tag = %d", result.Tag)
			}
			data, found, err := engine.State().GetProtocolData(tc.next)
			if err != nil || !found {
				t.Fatalf("protocol data missing after upgrade")
			}
			if data.Mint.Addr == ([32]byte{}) {
				t.Fatalf("upgrade lost the mint reference")
			}
		})
	}
}

func TestCommitUpgradeUnknownRoot(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedExecutor{})
	result, err := engine.CommitUpgrade(NewCorrelationId(), UpgradeConfig{
		PreStateHash:           NewBlake2bHash([]byte("missing")),
		CurrentProtocolVersion: testVersion,
		NewProtocolVersion:     ProtocolVersion{Major: 1, Patch: 1},
	})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if result.Tag != UpgradeResultRootNotFound {
		t.Fatalf("tag = %d, want RootNotFound", result.Tag)
	}
}

// ------------------------------------------------------------
// Query
// ------------------------------------------------------------

func TestRunQueryReadsAccounts(t *testing.T) {
	engine, root := newTestEngine(t, &scriptedExecutor{})
	v, err := engine.RunQuery(NewCorrelationId(), root, AccountKey(testAccountA), nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, ok := v.(AccountValue); !ok {
		t.Fatalf("query returned %s", v.TypeString())
	}
	if _, err := engine.RunQuery(NewCorrelationId(), root, AccountKey(PublicKey{0xEE}), nil); err == nil {
		t.Fatalf("missing account should error")
	}
}
