package ledger

import (
	"context"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/model"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/payment"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentGateway interface {
	CreateDeposit(ctx context.Context, amount int64, apiKey string) (*payment.Deposit, error)
	CheckStatus(ctx context.Context, transactionID, apiKey string) (*payment.Status, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// PollResult paid 只在交易为 success 时为 true
type PollResult struct {
	Paid         bool               `json:"paid"`
	Status       string             `json:"status"`
	RemoteStatus string             `json:"remote_status,omitempty"`
	Transaction  *model.Transaction `json:"transaction"`
}

// Deposits 充值状态机：pending → success | expired | canceled
type Deposits struct {
	store      *Store
	balance    *Balance
	gateway    PaymentGateway
	publisher  Publisher
	log        *logger.Logger
	defaultTTL time.Duration
}

func NewDeposits(store *Store, balance *Balance, gateway PaymentGateway, publisher Publisher, log *logger.Logger, defaultTTL time.Duration) *Deposits {
	if log == nil {
		log = logger.Nop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Deposits{
		store:      store,
		balance:    balance,
		gateway:    gateway,
		publisher:  publisher,
		log:        log,
		defaultTTL: defaultTTL,
	}
}

// Create 创建充值单。外部下单不持锁，落库前重新检查是否已有 pending
func (d *Deposits) Create(ctx context.Context, userID uint, amount int64, settings model.Settings) (*model.Transaction, *payment.Deposit, error) {
	if amount <= 0 {
		return nil, nil, apperror.Validation("invalid_amount")
	}

	if err := d.rejectPending(ctx, userID, nil); err != nil {
		return nil, nil, err
	}
	if settings.APIKey == "" {
		return nil, nil, apperror.Validation("missing_apikey")
	}

	dep, err := d.gateway.CreateDeposit(ctx, amount, settings.APIKey)
	if err != nil {
		d.store.metrics.CollaboratorError("payment")
		return nil, nil, collaboratorError("deposit_api_error", err)
	}

	now := d.store.now()
	bonusPercent := settings.TopupBonusPercent
	if bonusPercent < 0 {
		bonusPercent = 0
	}
	externalID := dep.TransactionID
	expiresAt := d.expiry(dep, now).UTC()
	t := &model.Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           model.TxKindDeposit,
		Amount:         dep.Amount,
		Fee:            dep.Fee,
		Total:          dep.Total,
		BonusPercent:   bonusPercent,
		BonusAmount:    dep.Amount * bonusPercent / 100,
		ExternalID:     &externalID,
		QRISURL:        dep.QRISURL,
		ExpiredMinutes: dep.ExpiredMinutes,
		Status:         model.TxStatusPending,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := d.rejectPending(ctx, userID, t); err != nil {
		if apperror.HasCode(err, "pending_deposit_exists") {
			d.log.Warn(ctx, "并发创建充值，外部订单已放弃: "+externalID, nil)
		}
		return nil, nil, err
	}
	d.store.metrics.DepositTransition(model.TxStatusPending)

	if d.publisher != nil {
		d.publisher.Publish(ctx, notify.Event{Kind: notify.EventDepositPending, UserID: userID, Transaction: t})
	}
	return t, dep, nil
}

// rejectPending 先清扫过期再检查 pending；create 非空时在同一锁内落库
func (d *Deposits) rejectPending(ctx context.Context, userID uint, create *model.Transaction) error {
	var existing *model.Transaction
	err := d.store.locked(ctx, func(tx *gorm.DB) error {
		var err error
		existing, err = d.store.pending(tx, userID)
		if err != nil || existing != nil || create == nil {
			return err
		}
		return tx.Create(create).Error
	})
	if err != nil {
		return wrap(err)
	}
	if existing != nil {
		return apperror.Conflict("pending_deposit_exists").With("transaction", existing)
	}
	return nil
}

// expiry 优先使用对端 expired_at，其次 expired_minutes，最后默认时长
func (d *Deposits) expiry(dep *payment.Deposit, now time.Time) time.Time {
	if dep.ExpiredAt != nil {
		return *dep.ExpiredAt
	}
	if dep.ExpiredMinutes > 0 {
		return now.Add(time.Duration(dep.ExpiredMinutes) * time.Minute)
	}
	return now.Add(d.defaultTTL)
}

// Poll 可重复调用。已过期或已终结的交易不再询问支付方，
// pending → success 的迁移只会成功一次，入账随迁移在同一事务内完成
func (d *Deposits) Poll(ctx context.Context, userID uint, ref string, settings model.Settings) (*PollResult, error) {
	var t *model.Transaction
	err := d.store.locked(ctx, func(tx *gorm.DB) error {
		var err error
		t, err = d.store.deposit(tx, userID, ref)
		if err != nil {
			return err
		}
		if t.PastExpiry(d.store.now()) {
			return d.store.expire(tx, t)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	if t.IsTerminal() {
		return &PollResult{Paid: t.Status == model.TxStatusSuccess, Status: t.Status, Transaction: t}, nil
	}
	if settings.APIKey == "" {
		return nil, apperror.Validation("missing_apikey")
	}

	external := t.ID
	if t.ExternalID != nil {
		external = *t.ExternalID
	}
	st, err := d.gateway.CheckStatus(ctx, external, settings.APIKey)
	if err != nil {
		d.store.metrics.CollaboratorError("payment")
		return nil, collaboratorError("status_api_error", err)
	}
	if !st.Paid {
		return &PollResult{Status: t.Status, RemoteStatus: st.Status, Transaction: t}, nil
	}

	credited := false
	err = d.store.locked(ctx, func(tx *gorm.DB) error {
		now := d.store.now()
		ok, err := d.store.transition(tx, t.ID, map[string]any{
			"status":  model.TxStatusSuccess,
			"paid_at": now,
		})
		if err != nil {
			return err
		}
		if ok {
			if err := d.balance.Credit(tx, t.UserID, t.Amount+t.BonusAmount); err != nil {
				return err
			}
			credited = true
		}
		t, err = d.store.reload(tx, t.ID)
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}

	if credited {
		d.store.metrics.DepositTransition(model.TxStatusSuccess)
		d.log.Info(ctx, "充值入账: "+t.ID)
		if d.publisher != nil {
			d.publisher.Publish(ctx, notify.Event{Kind: notify.EventDepositSuccess, UserID: userID, Transaction: t})
		}
	}
	return &PollResult{
		Paid:         t.Status == model.TxStatusSuccess,
		Status:       t.Status,
		RemoteStatus: st.Status,
		Transaction:  t,
	}, nil
}

// Cancel 只允许取消 pending 的充值
func (d *Deposits) Cancel(ctx context.Context, userID uint, ref string) (*model.Transaction, error) {
	var t *model.Transaction
	canceled := false
	err := d.store.locked(ctx, func(tx *gorm.DB) error {
		var err error
		t, err = d.store.deposit(tx, userID, ref)
		if err != nil {
			return err
		}
		if t.PastExpiry(d.store.now()) {
			// 过期迁移需要提交，不能随 cannot_cancel 回滚
			return d.store.expire(tx, t)
		}
		if t.Status != model.TxStatusPending {
			return nil
		}
		canceled, err = d.store.transition(tx, t.ID, map[string]any{
			"status":      model.TxStatusCanceled,
			"canceled_at": d.store.now(),
		})
		if err != nil {
			return err
		}
		t, err = d.store.reload(tx, t.ID)
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}
	if !canceled {
		return nil, apperror.Conflict("cannot_cancel").With("status", t.Status)
	}
	d.store.metrics.DepositTransition(model.TxStatusCanceled)
	return t, nil
}

// Active 当前未过期的 pending 充值
func (d *Deposits) Active(ctx context.Context, userID uint) (*model.Transaction, error) {
	var t *model.Transaction
	err := d.store.locked(ctx, func(tx *gorm.DB) error {
		var err error
		t, err = d.store.pending(tx, userID)
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}
	if t == nil {
		return nil, apperror.NotFound("not_found")
	}
	return t, nil
}
