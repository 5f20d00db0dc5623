//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- MockPaymentRepo ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc      func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	AddRefundFunc func(ctx context.Context, tx repository.Tx, id string, amount int64, status model.PaymentStatus) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByVariableSymbol(ctx context.Context, tx repository.Tx, vs string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.VariableSymbol == vs {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from []model.PaymentStatus, to model.PaymentStatus, paidAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if paidAt != nil {
				t := *paidAt
				p.PaidAt = &t
			}
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *MockPaymentRepo) SetGatewayResult(ctx context.Context, tx repository.Tx, id, externalID, code, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if externalID != "" {
		p.ExternalID = externalID
	}
	p.ResultCode, p.ResultMessage = code, message
	return nil
}

func (r *MockPaymentRepo) AddRefund(ctx context.Context, tx repository.Tx, id string, amount int64, status model.PaymentStatus) error {
	if r.AddRefundFunc != nil {
		return r.AddRefundFunc(ctx, tx, id, amount, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.RefundedAmount += amount
	p.Status = status
	return nil
}

func (r *MockPaymentRepo) TotalAmountSum(ctx context.Context, tx repository.Tx, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, p := range r.data {
		if p.Status == model.PaymentStatusPaid && p.PaidAt != nil && !p.PaidAt.Before(from) && p.PaidAt.Before(to) {
			sum += p.Amount - p.RefundedAmount
		}
	}
	return sum, nil
}

func (r *MockPaymentRepo) ListByPeriod(ctx context.Context, tx repository.Tx, from, to time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListStaleForm(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusForm && !p.RecurrentCharge && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// byStatus returns the payments currently in status.
func (r *MockPaymentRepo) byStatus(status model.PaymentStatus) []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ---- MockSubscriptionTypeRepo ----

type MockSubscriptionTypeRepo struct {
	mu   sync.Mutex
	data map[string]*model.SubscriptionType
}

var _ repository.SubscriptionTypeRepository = (*MockSubscriptionTypeRepo)(nil)

func NewMockSubscriptionTypeRepo() *MockSubscriptionTypeRepo {
	return &MockSubscriptionTypeRepo{data: map[string]*model.SubscriptionType{}}
}

func (r *MockSubscriptionTypeRepo) Save(ctx context.Context, tx repository.Tx, t *model.SubscriptionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.data[t.ID] = &cp
	return nil
}

func (r *MockSubscriptionTypeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// ---- MockRecurrentRepo ----

// MockRecurrentRepo enforces the same uniqueness rules as the postgres
// schema: one open record per chain and one chain per parent payment origin.
type MockRecurrentRepo struct {
	mu     sync.Mutex
	data   map[string]*model.RecurrentPayment
	order  map[string]int
	seq    int
	audits []*model.RecurrentAudit

	// payments backs ListStoppedWithOpenCharge, like the join in postgres.
	payments *MockPaymentRepo

	// TransitionHook runs before a transition is applied, outside the lock.
	TransitionHook func(id string, to model.RecurrentState)
}

var _ repository.RecurrentPaymentRepository = (*MockRecurrentRepo)(nil)

func NewMockRecurrentRepo() *MockRecurrentRepo {
	return &MockRecurrentRepo{data: map[string]*model.RecurrentPayment{}, order: map[string]int{}}
}

func cloneRP(rp *model.RecurrentPayment) *model.RecurrentPayment {
	cp := *rp
	return &cp
}

func (r *MockRecurrentRepo) Save(ctx context.Context, tx repository.Tx, rp *model.RecurrentPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[rp.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, o := range r.data {
		if rp.State.IsOpen() && o.State.IsOpen() && o.ChainID == rp.ChainID {
			return domain.ErrAlreadyExists
		}
		if o.ID == o.ChainID && rp.ID == rp.ChainID && o.ParentPaymentID == rp.ParentPaymentID {
			return domain.ErrAlreadyExists
		}
	}
	r.seq++
	r.order[rp.ID] = r.seq
	r.data[rp.ID] = cloneRP(rp)
	return nil
}

func (r *MockRecurrentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rp, ok := r.data[id]; ok {
		return cloneRP(rp), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockRecurrentRepo) FindByParentPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rp := range r.data {
		if rp.ID == rp.ChainID && rp.ParentPaymentID == paymentID {
			return cloneRP(rp), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockRecurrentRepo) FindOpenByChain(ctx context.Context, tx repository.Tx, chainID string) (*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rp := range r.data {
		if rp.ChainID == chainID && rp.State.IsOpen() {
			return cloneRP(rp), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockRecurrentRepo) FindLatestByChain(ctx context.Context, tx repository.Tx, chainID string) (*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.RecurrentPayment
	for _, rp := range r.data {
		if rp.ChainID == chainID && (latest == nil || r.order[rp.ID] > r.order[latest.ID]) {
			latest = rp
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return cloneRP(latest), nil
}

func (r *MockRecurrentRepo) sorted(keep func(*model.RecurrentPayment) bool, less func(a, b *model.RecurrentPayment) bool) []*model.RecurrentPayment {
	var out []*model.RecurrentPayment
	for _, rp := range r.data {
		if keep(rp) {
			out = append(out, cloneRP(rp))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *MockRecurrentRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(rp *model.RecurrentPayment) bool {
		return (rp.State == model.RecurrentStateActive || rp.State == model.RecurrentStatePending) && !rp.ChargeAt.After(now)
	}, func(a, b *model.RecurrentPayment) bool {
		if !a.ChargeAt.Equal(b.ChargeAt) {
			return a.ChargeAt.Before(b.ChargeAt)
		}
		return r.order[a.ID] < r.order[b.ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockRecurrentRepo) ListStaleCharging(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(rp *model.RecurrentPayment) bool {
		return rp.State == model.RecurrentStateCharging && rp.AttemptedAt != nil && rp.AttemptedAt.Before(olderThan)
	}, func(a, b *model.RecurrentPayment) bool { return a.AttemptedAt.Before(*b.AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockRecurrentRepo) ListStoppedWithOpenCharge(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(rp *model.RecurrentPayment) bool {
		if !rp.State.IsTerminal() || rp.PaymentID == nil || rp.AttemptedAt == nil || !rp.AttemptedAt.Before(olderThan) || r.payments == nil {
			return false
		}
		p, err := r.payments.FindByID(ctx, tx, *rp.PaymentID)
		return err == nil && p.Status == model.PaymentStatusForm && p.RecurrentCharge
	}, func(a, b *model.RecurrentPayment) bool { return a.AttemptedAt.Before(*b.AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockRecurrentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(rp *model.RecurrentPayment) bool { return rp.UserID == userID },
		func(a, b *model.RecurrentPayment) bool { return r.order[a.ID] > r.order[b.ID] }), nil
}

func (r *MockRecurrentRepo) ListOpenByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(rp *model.RecurrentPayment) bool { return rp.UserID == userID && rp.State.IsOpen() },
		func(a, b *model.RecurrentPayment) bool { return r.order[a.ID] < r.order[b.ID] }), nil
}

func (r *MockRecurrentRepo) ListOpenByGateway(ctx context.Context, tx repository.Tx, gateway, afterID string, limit int) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(rp *model.RecurrentPayment) bool {
		return rp.Gateway == gateway && rp.State.IsOpen() && rp.ID > afterID
	}, func(a, b *model.RecurrentPayment) bool { return a.ID < b.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockRecurrentRepo) ListDuplicateCandidates(ctx context.Context, tx repository.Tx) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chains := map[string]map[string]bool{}
	for _, rp := range r.data {
		if rp.State.IsOpen() {
			if chains[rp.UserID] == nil {
				chains[rp.UserID] = map[string]bool{}
			}
			chains[rp.UserID][rp.ChainID] = true
		}
	}
	return r.sorted(func(rp *model.RecurrentPayment) bool {
		return rp.State.IsOpen() && len(chains[rp.UserID]) > 1
	}, func(a, b *model.RecurrentPayment) bool { return r.order[a.ID] < r.order[b.ID] }), nil
}

func (r *MockRecurrentRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.RecurrentState, to model.RecurrentState, upd model.StateUpdate) (bool, error) {
	if r.TransitionHook != nil {
		r.TransitionHook(id, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	match := false
	for _, f := range from {
		if rp.State == f {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	rp.State = to
	if upd.Retries != nil {
		rp.Retries = *upd.Retries
	}
	if upd.PaymentID != nil {
		v := *upd.PaymentID
		rp.PaymentID = &v
	}
	if upd.AttemptedAt != nil {
		v := *upd.AttemptedAt
		rp.AttemptedAt = &v
	}
	if upd.ResultCode != nil {
		rp.ResultCode = *upd.ResultCode
	}
	if upd.ResultMessage != nil {
		rp.ResultMessage = *upd.ResultMessage
	}
	if upd.Note != nil {
		rp.Note = *upd.Note
	}
	rp.UpdatedAt = time.Now()
	return true, nil
}

func (r *MockRecurrentRepo) StopAllOpenByUser(ctx context.Context, tx repository.Tx, userID string, to model.RecurrentState, note string) ([]*model.RecurrentPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.RecurrentPayment
	for _, rp := range r.data {
		if rp.UserID == userID && rp.State.IsOpen() {
			rp.State = to
			rp.Note = note
			rp.UpdatedAt = time.Now()
			out = append(out, cloneRP(rp))
		}
	}
	return out, nil
}

func (r *MockRecurrentRepo) UpdateExpiresAt(ctx context.Context, tx repository.Tx, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	rp.ExpiresAt = &expiresAt
	return nil
}

func (r *MockRecurrentRepo) SaveAudit(ctx context.Context, tx repository.Tx, a *model.RecurrentAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.audits = append(r.audits, &cp)
	return nil
}

func (r *MockRecurrentRepo) ListAudit(ctx context.Context, tx repository.Tx, chainID string) ([]*model.RecurrentAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.RecurrentAudit
	for _, a := range r.audits {
		if a.ChainID == chainID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// chain returns every record of the chain in append order.
func (r *MockRecurrentRepo) chain(chainID string) []*model.RecurrentPayment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(rp *model.RecurrentPayment) bool { return rp.ChainID == chainID },
		func(a, b *model.RecurrentPayment) bool { return r.order[a.ID] < r.order[b.ID] })
}

// patch mutates a stored record directly (test setup only).
func (r *MockRecurrentRepo) patch(id string, fn func(rp *model.RecurrentPayment)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rp, ok := r.data[id]; ok {
		fn(rp)
	}
}

func (r *MockRecurrentRepo) auditCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audits)
}

// ---- MockTxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- In-memory Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrChargeInProgress
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- MockNotifier ----

type MockNotifier struct {
	mu     sync.Mutex
	Alerts []adapter.Alert
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, a)
	return nil
}

func (n *MockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Alerts)
}

// ---- MockGateway ----

// MockGateway implements every capability interface; what it declares is
// controlled by caps. Charges are idempotent by payment id like a real gateway.
type MockGateway struct {
	mu   sync.Mutex
	code string
	caps adapter.CapabilitySet

	ChargeFunc   func(ctx context.Context, p *model.Payment, token string) (adapter.ChargeResult, error)
	CompleteFunc func(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error)
	RefundFunc   func(ctx context.Context, p *model.Payment, amount int64) (adapter.RefundResult, error)
	ValidFunc    func(ctx context.Context, token string) (bool, error)
	Expiries     map[string]time.Time

	ChargeCalls []string // payment ids, in call order
	settled     map[string]adapter.ChargeResult
	Cancelled   []string
	Refunds     []int64
}

func NewMockGateway(code string, caps ...adapter.Capability) *MockGateway {
	return &MockGateway{code: code, caps: adapter.Capabilities(caps...), settled: map[string]adapter.ChargeResult{}, Expiries: map[string]time.Time{}}
}

func (g *MockGateway) Code() string                        { return g.code }
func (g *MockGateway) Capabilities() adapter.CapabilitySet { return g.caps }

func (g *MockGateway) Begin(ctx context.Context, p *model.Payment) (adapter.BeginResult, error) {
	return adapter.BeginResult{RedirectURL: "https://gw.test/pay/" + p.ID, ExternalID: "sess-" + p.ID}, nil
}

func (g *MockGateway) Complete(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error) {
	if g.CompleteFunc != nil {
		return g.CompleteFunc(ctx, p, params)
	}
	return adapter.CompleteResult{Settlement: adapter.SettlementPaid, Code: "ok", ExternalID: "ext-" + p.ID, Token: "tok-" + p.UserID}, nil
}

func (g *MockGateway) Charge(ctx context.Context, p *model.Payment, token string) (adapter.ChargeResult, error) {
	g.mu.Lock()
	g.ChargeCalls = append(g.ChargeCalls, p.ID)
	if res, ok := g.settled[p.ID]; ok {
		g.mu.Unlock()
		return res, nil
	}
	fn := g.ChargeFunc
	g.mu.Unlock()

	res := adapter.ChargeResult{Status: adapter.ChargeOK, Code: "ok", ExternalID: "ch-" + p.ID}
	var err error
	if fn != nil {
		res, err = fn(ctx, p, token)
	}
	if err == nil && res.Status != adapter.ChargeDeferred {
		g.mu.Lock()
		g.settled[p.ID] = res
		g.mu.Unlock()
	}
	return res, err
}

// settle records a charge the caller never heard about (lost response).
func (g *MockGateway) settle(paymentID string, res adapter.ChargeResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[paymentID] = res
}

func (g *MockGateway) successfulCharges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.settled {
		if r.Status == adapter.ChargeOK {
			n++
		}
	}
	return n
}

func (g *MockGateway) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ChargeCalls...)
}

func (g *MockGateway) LookupCharge(ctx context.Context, p *model.Payment) (adapter.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.settled[p.ID]; ok {
		return res, nil
	}
	return adapter.ChargeResult{Status: adapter.ChargeNotFound}, nil
}

func (g *MockGateway) Refund(ctx context.Context, p *model.Payment, amount int64) (adapter.RefundResult, error) {
	if g.RefundFunc != nil {
		return g.RefundFunc(ctx, p, amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, amount)
	return adapter.RefundResult{OK: true, ExternalID: "re-" + p.ID, Amount: amount, RefundedAt: time.Now()}, nil
}

func (g *MockGateway) CancelToken(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, token)
	return nil
}

func (g *MockGateway) AuthorizationURL(ctx context.Context, p *model.Payment) (string, error) {
	return "https://gw.test/authorize/" + p.ID, nil
}

func (g *MockGateway) CheckValid(ctx context.Context, token string) (bool, error) {
	if g.ValidFunc != nil {
		return g.ValidFunc(ctx, token)
	}
	return true, nil
}

func (g *MockGateway) CheckExpire(ctx context.Context, tokens []string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	for _, t := range tokens {
		if exp, ok := g.Expiries[t]; ok {
			out[t] = exp
		}
	}
	return out, nil
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
