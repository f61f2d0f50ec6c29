package core

// L4 facade: the per-deploy payment -> session -> finalize pipeline, genesis
// installation, protocol upgrades, commits and queries.

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type EngineConfig struct {
	// UseSystemContracts selects genesis behavior: when false (the default
	// deployment) the system contracts are installed as empty blobs served
	// host-side; when true the installer bytes are stored as the contract
	// bodies. Genesis does not execute the installer Wasm in either mode.
	UseSystemContracts bool
}

type engineMetrics struct {
	deploysExecuted prometheus.Counter
	deploysFailed   prometheus.Counter
	gasConsumed     prometheus.Counter
	commitDuration  prometheus.Histogram
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)
	return &engineMetrics{
		deploysExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_deploys_executed_total",
			Help: "Deploys run through the execution pipeline.",
		}),
		deploysFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_deploys_failed_total",
			Help: "Deploys that ended in failure, precondition failures included.",
		}),
		gasConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_gas_consumed_total",
			Help: "Total gas charged across all deploys.",
		}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_commit_duration_seconds",
			Help:    "Wall time of state commits.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

type EngineState struct {
	config   EngineConfig
	cache    *SystemContractCache
	state    StateProvider
	executor Executor
	logger   *logrus.Logger
	metrics  *engineMetrics
}

func NewEngineState(state StateProvider, executor Executor, config EngineConfig, logger *logrus.Logger, reg prometheus.Registerer) *EngineState {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &EngineState{
		config:   config,
		cache:    NewSystemContractCache(),
		state:    state,
		executor: executor,
		logger:   logger,
		metrics:  newEngineMetrics(reg),
	}
}

func (e *EngineState) State() StateProvider { return e.state }

func (e *EngineState) EmptyRoot() Blake2bHash { return e.state.EmptyRoot() }

//---------------------------------------------------------------------
// Execute
//---------------------------------------------------------------------

// RunExecute processes one deploy batch serially in caller order. An unknown
// parent root, a fatal storage error or a failed finalize phase aborts the
// batch; every other failure is a per-deploy result.
func (e *EngineState) RunExecute(correlationID CorrelationId, req ExecuteRequest) ([]ExecutionResult, error) {
	results := make([]ExecutionResult, 0, len(req.Deploys))
	for _, item := range req.Deploys {
		result, err := e.Deploy(correlationID, req.ProtocolVersion, req.ParentStateHash, req.BlockTime, item)
		if err != nil {
			return nil, err
		}
		e.metrics.deploysExecuted.Inc()
		if result.Failed {
			e.metrics.deploysFailed.Inc()
		}
		if cost := result.Cost.Value; cost.Cmp(NewU512(math.MaxUint64)) <= 0 {
			e.metrics.gasConsumed.Add(float64(cost.Uint64()))
		}
		results = append(results, result)
	}
	return results, nil
}

// Deploy runs one deploy against prestateRoot. The returned error is
// reserved for RootNotFound (batch abort), fatal storage trouble and a
// failed finalize phase; deploy level failures come back inside the
// ExecutionResult.
func (e *EngineState) Deploy(
	correlationID CorrelationId,
	protocolVersion ProtocolVersion,
	prestateRoot Blake2bHash,
	blockTime uint64,
	deploy DeployItem,
) (ExecutionResult, error) {
	reader, ok, err := e.state.Checkout(prestateRoot)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !ok {
		return ExecutionResult{}, RootNotFoundError{Root: prestateRoot}
	}
	tc := NewTrackingCopy(reader)

	account, err := tc.GetAccount(deploy.Address)
	if err != nil {
		return PreconditionFailure(ErrAuthorization), nil
	}
	if !account.CanAuthorize(deploy.AuthorizationKeys) {
		return PreconditionFailure(ErrAuthorization), nil
	}
	if !account.CanDeployWith(deploy.AuthorizationKeys) {
		return PreconditionFailure(ErrDeploymentAuthorization), nil
	}

	sessionModule, err := e.getModule(tc, deploy.Session, account, protocolVersion)
	if err != nil {
		return PreconditionFailure(err), nil
	}

	protocolData, found, err := e.state.GetProtocolData(protocolVersion)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !found {
		return PreconditionFailure(InvalidProtocolVersionError{Version: protocolVersion}), nil
	}

	mintContract, err := tc.GetContract(protocolData.Mint.Key())
	if err != nil {
		return PreconditionFailure(MissingSystemContractError{Name: MintName}), nil
	}
	if !e.cache.Has(protocolData.Mint) {
		e.cache.Insert(protocolData.Mint, mintContract.Bytes)
	}
	posContract, err := tc.GetContract(protocolData.ProofOfStake.Key())
	if err != nil {
		return PreconditionFailure(MissingSystemContractError{Name: PosName}), nil
	}
	if !e.cache.Has(protocolData.ProofOfStake) {
		e.cache.Insert(protocolData.ProofOfStake, posContract.Bytes)
	}

	rewardsPurseKey, ok := posContract.NamedKeys[PosRewardsPurseName]
	if !ok {
		return PreconditionFailure(ErrDeploy), nil
	}
	rewardsBalanceKey, err := tc.GetPurseBalanceKey(protocolData.Mint, rewardsPurseKey)
	if err != nil {
		return PreconditionFailure(err), nil
	}

	accountBalanceKey, err := tc.GetPurseBalanceKey(protocolData.Mint, account.MainPurse.Key())
	if err != nil {
		return PreconditionFailure(err), nil
	}
	accountBalance, err := tc.GetPurseBalance(accountBalanceKey)
	if err != nil {
		return PreconditionFailure(err), nil
	}

	// The balance floor guarantees the forced transfer is always collectable.
	if accountBalance.Cmp(NewMotes(MaxPayment)) < 0 {
		return PreconditionFailure(ErrInsufficientPayment), nil
	}

	//-----------------------------------------------------------------
	// Payment phase
	//-----------------------------------------------------------------
	paymentTC := tc.Fork()
	payGasLimit := GasFromMotes(NewMotes(MaxPayment), ConvRate)

	var paymentResult ExecutionResult
	if deploy.Payment.IsEmptyModuleBytes() {
		paymentResult = e.runHostStandardPayment(correlationID, protocolVersion, protocolData, blockTime, deploy, account, paymentTC, payGasLimit)
	} else {
		paymentModule, err := e.getModule(tc, deploy.Payment, account, protocolVersion)
		if err != nil {
			return PreconditionFailure(err), nil
		}
		paymentResult = e.executor.Exec(ExecParams{
			Module:            paymentModule,
			Args:              deploy.Payment.Args,
			NamedKeys:         cloneNamedKeys(account.NamedKeys),
			BaseKey:           AccountKey(deploy.Address),
			Account:           account,
			AuthorizationKeys: deploy.AuthorizationKeys,
			BlockTime:         blockTime,
			DeployHash:        deploy.DeployHash,
			GasLimit:          payGasLimit,
			ProtocolVersion:   protocolVersion,
			CorrelationID:     correlationID,
			TrackingCopy:      paymentTC,
			Phase:             PhasePayment,
			ProtocolData:      protocolData,
			Cache:             e.cache,
		})
	}

	paymentPurseKey, ok := posContract.NamedKeys[PosPaymentPurseName]
	if !ok {
		return PreconditionFailure(ErrDeploy), nil
	}
	paymentBalanceKey, err := paymentTC.GetPurseBalanceKey(protocolData.Mint, paymentPurseKey)
	if err != nil {
		return PreconditionFailure(err), nil
	}
	paymentPurseBalance, err := paymentTC.GetPurseBalance(paymentBalanceKey)
	if err != nil {
		return PreconditionFailure(err), nil
	}

	if forced := CheckForcedTransfer(paymentResult, paymentPurseBalance); forced != ForcedTransferNone {
		failure := ErrInsufficientPayment
		if forced == ForcedTransferPaymentFailure {
			failure = paymentResult.Err
		}
		e.logger.WithField("correlation_id", correlationID).
			Warnf("deploy %x: forced transfer (%v)", deploy.DeployHash[:4], failure)
		return NewPaymentCodeError(failure, accountBalance, accountBalanceKey, rewardsBalanceKey), nil
	}

	builder := NewExecutionResultBuilder().SetPayment(paymentResult)

	//-----------------------------------------------------------------
	// Session phase, speculatively on a fork of post-payment state
	//-----------------------------------------------------------------
	sessionGasLimit := GasFromMotes(paymentPurseBalance, ConvRate)
	sessionGasLimit, _ = sessionGasLimit.Sub(paymentResult.Cost)

	sessionTC := paymentTC.Fork()
	sessionResult := e.executor.Exec(ExecParams{
		Module:            sessionModule,
		Args:              deploy.Session.Args,
		NamedKeys:         cloneNamedKeys(account.NamedKeys),
		BaseKey:           AccountKey(deploy.Address),
		Account:           account,
		AuthorizationKeys: deploy.AuthorizationKeys,
		BlockTime:         blockTime,
		DeployHash:        deploy.DeployHash,
		GasLimit:          sessionGasLimit,
		ProtocolVersion:   protocolVersion,
		CorrelationID:     correlationID,
		TrackingCopy:      sessionTC,
		Phase:             PhaseSession,
		ProtocolData:      protocolData,
		Cache:             e.cache,
	})
	builder.SetSession(sessionResult)

	// A failed session reverts to post-payment state; its error is still the
	// deploy's error.
	postSessionTC := sessionTC
	if sessionResult.Failed {
		postSessionTC = paymentTC.Fork()
	}

	//-----------------------------------------------------------------
	// Finalize phase: settle fees as the system
	//-----------------------------------------------------------------
	finalizeTC := postSessionTC.Fork()
	totalCostMotes, ok := MotesFromGas(builder.TotalCost(), ConvRate)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("deploy cost overflows motes")
	}
	finalizeRng := NewAddressGenerator(deploy.Address, blockTime, account.Nonce, deploy.DeployHash, PhaseFinalizePayment)
	mint := newHostMint(finalizeTC, protocolData, finalizeRng)
	pos := newHostPos(finalizeTC, mint, protocolData)
	if err := pos.FinalizePayment(totalCostMotes, deploy.Address); err != nil {
		e.logger.WithField("correlation_id", correlationID).
			Errorf("deploy %x: finalization failed: %v", deploy.DeployHash[:4], err)
		return ExecutionResult{}, err
	}
	builder.SetFinalize(SuccessResult(finalizeTC.Effect(), NewGas(0)))

	result, built := builder.Build()
	if !built {
		return ExecutionResult{}, fmt.Errorf("execution result builder not fully initialized")
	}
	return result, nil
}

// runHostStandardPayment serves the empty-module-bytes payment convention
// without instantiating Wasm.
func (e *EngineState) runHostStandardPayment(
	correlationID CorrelationId,
	protocolVersion ProtocolVersion,
	protocolData ProtocolData,
	blockTime uint64,
	deploy DeployItem,
	account *Account,
	paymentTC *TrackingCopy,
	gasLimit Gas,
) ExecutionResult {
	namedKeys := cloneNamedKeys(account.NamedKeys)
	known := make([]Key, 0, len(namedKeys))
	for _, k := range namedKeys {
		known = append(known, k)
	}
	ctx := NewRuntimeContext(RuntimeContextParams{
		TrackingCopy:      paymentTC,
		NamedKeys:         namedKeys,
		KnownURefs:        KnownURefsFromKeys(known),
		Args:              deploy.Payment.Args,
		Account:           account,
		AuthorizationKeys: deploy.AuthorizationKeys,
		BaseKey:           AccountKey(deploy.Address),
		BlockTime:         blockTime,
		DeployHash:        deploy.DeployHash,
		Phase:             PhasePayment,
		GasLimit:          gasLimit,
		Rng:               NewAddressGenerator(deploy.Address, blockTime, account.Nonce, deploy.DeployHash, PhasePayment),
		ProtocolVersion:   protocolVersion,
		ProtocolData:      protocolData,
		CorrelationID:     correlationID,
	})
	snapshot := paymentTC.Effect()
	if err := HostStandardPayment(ctx); err != nil {
		return FailureResult(err, snapshot, ctx.GasCounter())
	}
	return SuccessResult(ctx.Effect(), ctx.GasCounter())
}

func cloneNamedKeys(m map[string]Key) map[string]Key {
	out := make(map[string]Key, len(m))
	for name, k := range m {
		out[name] = k
	}
	return out
}

//---------------------------------------------------------------------
// Module resolution
//---------------------------------------------------------------------

// getModule resolves an executable deploy item to Wasm bytes through the
// account's named keys or content-addressed lookup.
func (e *EngineState) getModule(tc *TrackingCopy, item ExecutableDeployItem, account *Account, protocolVersion ProtocolVersion) ([]byte, error) {
	var contractKey Key
	switch item.Tag {
	case DeployItemModuleBytes:
		if len(item.ModuleBytes) == 0 {
			return nil, WasmPreprocessingError{Message: "empty module bytes"}
		}
		return item.ModuleBytes, nil

	case DeployItemStoredByHash:
		if len(item.Hash) != 32 {
			return nil, InvalidHashLengthError{Expected: 32, Actual: len(item.Hash)}
		}
		var addr [32]byte
		copy(addr[:], item.Hash)
		contractKey = HashKey(addr)

	case DeployItemStoredByName:
		key, ok := account.NamedKeys[item.Name]
		if !ok {
			return nil, URefNotFoundError{Name: item.Name}
		}
		if uref, isURef := key.AsURef(); isURef && !uref.Rights.IsReadable() {
			return nil, ForgedReferenceError{Key: key}
		}
		contractKey = key

	case DeployItemStoredByURef:
		if len(item.URefAddr) != 32 {
			return nil, InvalidHashLengthError{Expected: 32, Actual: len(item.URefAddr)}
		}
		var addr [32]byte
		copy(addr[:], item.URefAddr)
		wanted := URefKey(addr, AccessRightsRead).Normalize()
		var match *Key
		for _, named := range account.NamedKeys {
			if named.Normalize() == wanted {
				k := named
				match = &k
				break
			}
		}
		if match == nil {
			return nil, KeyNotFoundError{Key: URefKey(addr, AccessRightsRead)}
		}
		uref, isURef := match.AsURef()
		if !isURef {
			return nil, TypeMismatch{Expected: "Key::URef", Found: match.TypeString()}
		}
		if !uref.Rights.IsReadable() {
			return nil, ForgedReferenceError{Key: *match}
		}
		contractKey = wanted

	default:
		return nil, ErrDeploy
	}

	contract, err := tc.GetContract(contractKey)
	if err != nil {
		return nil, err
	}
	if !contract.ProtocolVersion.IsCompatibleWith(protocolVersion) {
		return nil, IncompatibleProtocolMajorError{
			Expected: protocolVersion.Major,
			Actual:   contract.ProtocolVersion.Major,
		}
	}
	return contract.Bytes, nil
}

//---------------------------------------------------------------------
// Commit & query
//---------------------------------------------------------------------

// ApplyEffect commits effects on top of preStateHash and, on success,
// resolves the bonded validator set at the new root.
func (e *EngineState) ApplyEffect(
	correlationID CorrelationId,
	protocolVersion ProtocolVersion,
	preStateHash Blake2bHash,
	effects map[Key]Transform,
) (CommitResult, error) {
	start := time.Now()
	result, err := e.state.Commit(correlationID, preStateHash, effects)
	e.metrics.commitDuration.Observe(time.Since(start).Seconds())
	if err != nil || result.Tag != CommitResultSuccess {
		return result, err
	}
	bonded, err := e.bondedValidators(protocolVersion, result.NewRoot)
	if err != nil {
		return CommitResult{}, err
	}
	result.BondedValidators = bonded
	return result, nil
}

func (e *EngineState) bondedValidators(protocolVersion ProtocolVersion, root Blake2bHash) (map[PublicKey]BigUint, error) {
	protocolData, found, err := e.state.GetProtocolData(protocolVersion)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, InvalidProtocolVersionError{Version: protocolVersion}
	}
	reader, ok, err := e.state.Checkout(root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, RootNotFoundError{Root: root}
	}
	tc := NewTrackingCopy(reader)
	contract, err := tc.GetContract(protocolData.ProofOfStake.Key())
	if err != nil {
		return nil, MissingSystemContractError{Name: PosName}
	}
	return BondedValidatorsFromContract(contract), nil
}

// RunQuery reads the value at key under a root and walks the named-key path.
func (e *EngineState) RunQuery(correlationID CorrelationId, stateHash Blake2bHash, key Key, path []string) (Value, error) {
	reader, ok, err := e.state.Checkout(stateHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, RootNotFoundError{Root: stateHash}
	}
	return NewTrackingCopy(reader).Query(key, path)
}

//---------------------------------------------------------------------
// Genesis
//---------------------------------------------------------------------

// CommitGenesis installs the system contracts and the configured accounts
// on top of the empty root, returning the genesis post-state hash.
func (e *EngineState) CommitGenesis(correlationID CorrelationId, config GenesisConfig) (GenesisResult, error) {
	emptyRoot := e.state.EmptyRoot()
	reader, ok, err := e.state.Checkout(emptyRoot)
	if err != nil {
		return GenesisResult{}, err
	}
	if !ok {
		return GenesisResult{}, fmt.Errorf("state has not been initialized properly")
	}
	tc := NewTrackingCopy(reader)

	installDeployHash := config.InstallDeployHash()
	rng := NewSeededAddressGenerator(installDeployHash[:], PhaseSystem)

	// System contract URefs are drawn deterministically from the install
	// deploy hash. The contract bodies are the installer bytes when genesis
	// runs with real system contracts, empty (host-served) otherwise.
	installContract := func(bytes []byte) URef {
		uref := NewURef(rng.CreateAddress(), AccessRightsReadAddWrite)
		contract := NewContract(bytes, nil, config.ProtocolVersion)
		tc.Write(uref.Key(), ContractValue{Contract: contract})
		return uref
	}
	contractBody := func(installer []byte) []byte {
		if e.config.UseSystemContracts {
			return installer
		}
		return nil
	}

	mintURef := installContract(contractBody(config.MintInstallerBytes))
	posURef := installContract(contractBody(config.PosInstallerBytes))
	standardPaymentURef := installContract(contractBody(config.StandardPaymentInstallerBytes))

	protocolData := ProtocolData{
		WasmCosts:       config.WasmCosts,
		Mint:            mintURef,
		ProofOfStake:    posURef,
		StandardPayment: standardPaymentURef,
	}
	mint := newHostMint(tc, protocolData, rng)

	// Fund the proof-of-stake purses: bonding holds the genesis stakes,
	// payment and rewards start empty.
	totalBonds := NewMotes(0)
	bonded := config.BondedValidators()
	for _, stake := range bonded {
		totalBonds, ok = totalBonds.Add(stake)
		if !ok {
			return GenesisResult{}, fmt.Errorf("genesis bonds overflow")
		}
	}
	bondingPurse := mint.MintMotes(totalBonds)
	paymentPurse := mint.CreatePurse()
	rewardsPurse := mint.CreatePurse()

	posNamedKeys := map[string]Key{
		PosBondingPurseName: bondingPurse.Key(),
		PosPaymentPurseName: paymentPurse.Key(),
		PosRewardsPurseName: rewardsPurse.Key(),
	}
	for pk, stake := range bonded {
		posNamedKeys[stakeKeyName(pk, stake)] = PlaceholderKey
	}
	posContract := NewContract(contractBody(config.PosInstallerBytes), posNamedKeys, config.ProtocolVersion)
	tc.Write(posURef.Key(), ContractValue{Contract: posContract})

	if err := e.state.PutProtocolData(config.ProtocolVersion, protocolData); err != nil {
		return GenesisResult{}, err
	}

	// Mint every configured account's main purse. Purse addresses derive
	// from the account's public key so genesis stays order-independent.
	accountNamedKeys := map[string]Key{
		MintName: mintURef.WithRights(AccessRightsRead).Key(),
		PosName:  posURef.WithRights(AccessRightsRead).Key(),
	}
	for _, genesisAccount := range config.Accounts {
		accountRng := NewSeededAddressGenerator(genesisAccount.PublicKey[:], PhaseSystem)
		accountMint := newHostMint(tc, protocolData, accountRng)
		purse := accountMint.MintMotes(genesisAccount.Balance)
		account := NewAccount(genesisAccount.PublicKey, cloneNamedKeys(accountNamedKeys), purse.WithRights(AccessRightsReadAddWrite))
		tc.Write(AccountKey(genesisAccount.PublicKey), AccountValue{Account: account})
	}

	// The system account exists with an empty purse and full-rights handles
	// on the system contracts.
	systemNamedKeys := map[string]Key{
		MintName: mintURef.Key(),
		PosName:  posURef.Key(),
	}
	systemPurse := mint.CreatePurse()
	systemAccount := NewAccount(SystemAccountAddr, systemNamedKeys, systemPurse.WithRights(AccessRightsReadAddWrite))
	tc.Write(AccountKey(SystemAccountAddr), AccountValue{Account: systemAccount})

	effect := tc.Effect()
	commitResult, err := e.state.Commit(correlationID, emptyRoot, effect.Transforms)
	if err != nil {
		return GenesisResult{}, err
	}
	if commitResult.Tag != CommitResultSuccess {
		return GenesisResult{}, fmt.Errorf("genesis commit failed: tag=%d", commitResult.Tag)
	}
	e.logger.Infof("genesis: chain %q installed at %s", config.ChainName, commitResult.NewRoot)
	return GenesisResult{PostStateHash: commitResult.NewRoot, Effect: effect}, nil
}

//---------------------------------------------------------------------
// Upgrade
//---------------------------------------------------------------------

// CommitUpgrade validates a strictly succeeding protocol version, persists
// its ProtocolData, optionally runs the upgrade installer as the system
// account, and commits.
func (e *EngineState) CommitUpgrade(correlationID CorrelationId, config UpgradeConfig) (UpgradeResult, error) {
	reader, ok, err := e.state.Checkout(config.PreStateHash)
	if err != nil {
		return UpgradeResult{}, err
	}
	if !ok {
		return UpgradeResult{Tag: UpgradeResultRootNotFound}, nil
	}
	tc := NewTrackingCopy(reader)

	currentData, found, err := e.state.GetProtocolData(config.CurrentProtocolVersion)
	if err != nil {
		return UpgradeResult{}, err
	}
	if !found {
		return UpgradeResult{}, InvalidProtocolVersionError{Version: config.CurrentProtocolVersion}
	}

	check := config.CurrentProtocolVersion.CheckNextVersion(config.NewProtocolVersion)
	if check == VersionInvalid {
		return UpgradeResult{}, InvalidProtocolVersionError{Version: config.NewProtocolVersion}
	}
	if check == VersionMajor && len(config.UpgradeInstallerBytes) == 0 {
		return UpgradeResult{}, ErrInvalidUpgradeConfig
	}

	newCosts := currentData.WasmCosts
	if config.WasmCosts != nil {
		newCosts = *config.WasmCosts
	}
	newData := ProtocolData{
		WasmCosts:       newCosts,
		Mint:            currentData.Mint,
		ProofOfStake:    currentData.ProofOfStake,
		StandardPayment: currentData.StandardPayment,
	}
	if err := e.state.PutProtocolData(config.NewProtocolVersion, newData); err != nil {
		return UpgradeResult{}, err
	}

	if len(config.UpgradeInstallerBytes) > 0 {
		systemAccount, err := tc.GetAccount(SystemAccountAddr)
		if err != nil {
			return UpgradeResult{}, fmt.Errorf("system account must exist: %w", err)
		}
		deployHash := NewBlake2bHash(config.NewProtocolVersion.toBytes())
		result := e.executor.Exec(ExecParams{
			Module:            config.UpgradeInstallerBytes,
			Args:              config.UpgradeInstallerArgs,
			NamedKeys:         cloneNamedKeys(systemAccount.NamedKeys),
			BaseKey:           AccountKey(SystemAccountAddr),
			Account:           systemAccount,
			AuthorizationKeys: map[PublicKey]struct{}{SystemAccountAddr: {}},
			BlockTime:         0,
			DeployHash:        deployHash,
			GasLimit:          NewGas(math.MaxUint64),
			Rng:               NewSeededAddressGenerator(config.PreStateHash[:], PhaseSystem),
			ProtocolVersion:   config.NewProtocolVersion,
			CorrelationID:     correlationID,
			TrackingCopy:      tc,
			Phase:             PhaseSystem,
			ProtocolData:      newData,
			Cache:             e.cache,
		})
		if result.Failed {
			return UpgradeResult{}, fmt.Errorf("upgrade installer failed: %w", result.Err)
		}
	}

	effect := tc.Effect()
	commitResult, err := e.state.Commit(correlationID, config.PreStateHash, effect.Transforms)
	if err != nil {
		return UpgradeResult{}, err
	}
	if commitResult.Tag != CommitResultSuccess {
		return UpgradeResult{}, fmt.Errorf("upgrade commit failed: tag=%d", commitResult.Tag)
	}
	e.logger.Infof("upgrade: %s -> %s at %s", config.CurrentProtocolVersion, config.NewProtocolVersion, commitResult.NewRoot)
	return UpgradeResult{Tag: UpgradeResultSuccess, PostStateHash: commitResult.NewRoot, Effect: effect}, nil
}
