package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
	"github.com/reward-settler/internal/storage"
)

func testLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeLedger is an in-memory LedgerStore tracking status transitions.
type fakeLedger struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.RewardTransaction

	// wallet address per user, used by ListPendingRewards
	wallets map[string]string

	// when set, MarkFailedAndRollback reverses balances on this store the
	// way the repository does in one transaction
	walletsRef *fakeWallets

	claimErr     error
	claimResult  *int64
	markSubErr   error
	recordErr    error
	releaseCount int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:    make(map[int64]*models.RewardTransaction),
		wallets: make(map[string]string),
	}
}

func (f *fakeLedger) addPending(userID, wallet, amount string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.rows[f.nextID] = &models.RewardTransaction{
		ID:        f.nextID,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		TxType:    models.TxTypeReward,
		Status:    models.TxStatusPending,
		CreatedAt: time.Now(),
	}
	f.wallets[userID] = wallet
	return f.nextID
}

func (f *fakeLedger) status(id int64) models.TxStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

func (f *fakeLedger) Create(ctx context.Context, userID string, amount decimal.Decimal, txType models.TxType, status models.TxStatus) (*models.RewardTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	row := &models.RewardTransaction{
		ID:        f.nextID,
		UserID:    userID,
		Amount:    amount,
		TxType:    txType,
		Status:    status,
		CreatedAt: time.Now(),
	}
	f.rows[f.nextID] = row
	copied := *row
	return &copied, nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id int64) (*models.RewardTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeLedger) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RewardTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RewardTransaction
	for _, row := range f.rows {
		if row.UserID == userID {
			copied := *row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) ListPendingRewards(ctx context.Context) ([]models.PendingReward, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingReward
	var ids []int64
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		row := f.rows[id]
		wallet := f.wallets[row.UserID]
		if row.Status != models.TxStatusPending || row.TxType != models.TxTypeReward || wallet == "" {
			continue
		}
		out = append(out, models.PendingReward{
			ID:            row.ID,
			UserID:        row.UserID,
			Amount:        row.Amount,
			WalletAddress: wallet,
			Attempts:      row.Attempts,
		})
	}
	return out, nil
}

func (f *fakeLedger) ClaimForSettlement(ctx context.Context, ids []int64) (int64, error) {
	if f.claimErr != nil {
		return 0, f.claimErr
	}
	if f.claimResult != nil {
		return *f.claimResult, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed int64
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == models.TxStatusPending {
			row.Status = models.TxStatusProcessing
			claimed++
		}
	}
	return claimed, nil
}

func (f *fakeLedger) ReleaseClaim(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCount++
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == models.TxStatusProcessing && row.TxHash == nil {
			row.Status = models.TxStatusPending
		}
	}
	return nil
}

func (f *fakeLedger) MarkSubmitted(ctx context.Context, ids []int64, txHash string) error {
	if f.markSubErr != nil {
		return f.markSubErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == models.TxStatusProcessing {
			hash := txHash
			row.TxHash = &hash
		}
	}
	return nil
}

func (f *fakeLedger) RecordInvalidAddress(ctx context.Context, ids []int64, maxAttempts int) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		row, ok := f.rows[id]
		if !ok || row.Status != models.TxStatusPending {
			continue
		}
		row.Attempts++
		if row.Attempts >= maxAttempts {
			row.Status = models.TxStatusFailed
			reason := "invalid wallet address"
			row.FailReason = &reason
		}
	}
	return nil
}

func (f *fakeLedger) ListProcessingHashes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var hashes []string
	for _, row := range f.rows {
		if row.Status == models.TxStatusProcessing && row.TxHash != nil && !seen[*row.TxHash] {
			seen[*row.TxHash] = true
			hashes = append(hashes, *row.TxHash)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (f *fakeLedger) MarkConfirmed(ctx context.Context, txHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.rows {
		if row.Status == models.TxStatusProcessing && row.TxHash != nil && *row.TxHash == txHash {
			row.Status = models.TxStatusSuccess
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) MarkFailedAndRollback(ctx context.Context, txHash, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.rows {
		if row.Status == models.TxStatusProcessing && row.TxHash != nil && *row.TxHash == txHash {
			row.Status = models.TxStatusFailed
			row.FailReason = &reason
			if f.walletsRef != nil {
				f.walletsRef.reverse(row.UserID, row.TxType, row.Amount)
			}
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) SweepStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeLedger) UpdateStatus(ctx context.Context, id int64, status models.TxStatus, txHash, failReason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return storage.ErrTransactionNotFound
	}
	row.Status = status
	if txHash != nil {
		row.TxHash = txHash
	}
	if failReason != nil {
		row.FailReason = failReason
	}
	return nil
}

// fakeWallets is an in-memory WalletStore.
type fakeWallets struct {
	mu       sync.Mutex
	profiles map[string]*models.WalletProfile

	settlements map[string]decimal.Decimal // user id -> total applied
	debitErr    error
	applyErr    error
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{
		profiles:    make(map[string]*models.WalletProfile),
		settlements: make(map[string]decimal.Decimal),
	}
}

func (f *fakeWallets) addProfile(userID, wallet, virtual, blockchain string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.WalletProfile{
		UserID:            userID,
		VirtualBalance:    decimal.RequireFromString(virtual),
		BlockchainBalance: decimal.RequireFromString(blockchain),
	}
	if wallet != "" {
		p.WalletAddress = &wallet
	}
	f.profiles[userID] = p
}

func (f *fakeWallets) Create(ctx context.Context, userID string) (*models.WalletProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	p := &models.WalletProfile{UserID: userID}
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeWallets) GetByUserID(ctx context.Context, userID string) (*models.WalletProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeWallets) SetWalletAddress(ctx context.Context, userID, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		p = &models.WalletProfile{UserID: userID}
		f.profiles[userID] = p
	}
	p.WalletAddress = &address
	return nil
}

func (f *fakeWallets) CreditVirtual(ctx context.Context, userID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return storage.ErrProfileNotFound
	}
	p.VirtualBalance = p.VirtualBalance.Add(amount)
	return nil
}

func (f *fakeWallets) CreditBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return storage.ErrProfileNotFound
	}
	p.BlockchainBalance = p.BlockchainBalance.Add(amount)
	return nil
}

func (f *fakeWallets) DebitBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return storage.ErrProfileNotFound
	}
	if p.BlockchainBalance.LessThan(amount) {
		return storage.ErrInsufficientBalance
	}
	p.BlockchainBalance = p.BlockchainBalance.Sub(amount)
	return nil
}

func (f *fakeWallets) ApplySettlement(ctx context.Context, userID string, amount decimal.Decimal) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return storage.ErrProfileNotFound
	}
	p.VirtualBalance = p.VirtualBalance.Sub(amount)
	p.BlockchainBalance = p.BlockchainBalance.Add(amount)
	prev, ok := f.settlements[userID]
	if !ok {
		prev = decimal.Zero
	}
	f.settlements[userID] = prev.Add(amount)
	return nil
}

// reverse undoes the balance move a submitted row made, per its type.
func (f *fakeWallets) reverse(userID string, txType models.TxType, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return
	}
	switch txType {
	case models.TxTypeReward:
		p.VirtualBalance = p.VirtualBalance.Add(amount)
		p.BlockchainBalance = p.BlockchainBalance.Sub(amount)
	case models.TxTypeMint:
		p.BlockchainBalance = p.BlockchainBalance.Sub(amount)
	case models.TxTypeWithdraw:
		p.BlockchainBalance = p.BlockchainBalance.Add(amount)
	}
}

func (f *fakeWallets) SyncBlockchainBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return storage.ErrProfileNotFound
	}
	p.BlockchainBalance = balance
	return nil
}

// fakeChain is a scriptable ChainBroker.
type fakeChain struct {
	mu          sync.Mutex
	ready       bool
	submitHash  string
	submitErr   error
	transferErr error
	balances    map[string]decimal.Decimal
	balanceErr  error
	receipts    map[string]*ethtypes.Receipt
	receiptErr  error

	submittedRecipients []string
	submittedAmounts    []decimal.Decimal
	transfers           []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		ready:      true,
		submitHash: "0xfeed000000000000000000000000000000000000000000000000000000000001",
		balances:   make(map[string]decimal.Decimal),
		receipts:   make(map[string]*ethtypes.Receipt),
	}
}

func (f *fakeChain) Ready() bool { return f.ready }

func (f *fakeChain) SubmitBatchMint(ctx context.Context, recipients []string, amounts []decimal.Decimal) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submittedRecipients = append([]string(nil), recipients...)
	f.submittedAmounts = append([]decimal.Decimal(nil), amounts...)
	return f.submitHash, nil
}

func (f *fakeChain) TransferOut(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, fmt.Sprintf("%s:%s", recipient, amount))
	return f.submitHash, nil
}

func (f *fakeChain) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[address]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

func (f *fakeChain) Receipt(ctx context.Context, txHash string) (*ethtypes.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[txHash], nil
}

// fakeLocker is an in-process CycleLocker.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (f *fakeLocker) AcquireSettlementLock(ctx context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return storage.ErrLockHeld
	}
	f.held = true
	f.acquires++
	return nil
}

func (f *fakeLocker) ReleaseSettlementLock(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
	return nil
}

// fakeCache is an in-memory BalanceCache.
type fakeCache struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{balances: make(map[string]decimal.Decimal)}
}

func (f *fakeCache) GetCachedBalance(ctx context.Context, address string) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[address]
	return balance, ok, nil
}

func (f *fakeCache) SetCachedBalance(ctx context.Context, address string, balance decimal.Decimal, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = balance
	return nil
}

func (f *fakeCache) InvalidateCachedBalance(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.balances, address)
	f.invalidated = append(f.invalidated, address)
	return nil
}

// fakeAudit records events in memory.
type fakeAudit struct {
	mu     sync.Mutex
	events []*models.SettlementEvent
}

func (f *fakeAudit) Record(ctx context.Context, event *models.SettlementEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
