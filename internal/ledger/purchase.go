package ledger

import (
	"context"
	"errors"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/model"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/payment"
	"reseller-panel/internal/provision"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Provisioner interface {
	Create(ctx context.Context, t provision.Target, req provision.CreateRequest) (*provision.Result, error)
	Trial(ctx context.Context, t provision.Target, req provision.CreateRequest) (*provision.Result, error)
	Renew(ctx context.Context, t provision.Target, req provision.RenewRequest) (*provision.Result, error)
}

type PurchaseRequest struct {
	ServerID string `json:"server_id" validate:"required"`
	Type     string `json:"type" validate:"required"`
	User     string `json:"user"`
	Password string `json:"password"`
	Exp      int    `json:"exp" validate:"gte=0"`
	LimitIP  int    `json:"limitip" validate:"gte=0"`
	Quota    int64  `json:"quota" validate:"gte=0"`
}

type RenewRequest struct {
	ServerID string `json:"server_id" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Num      string `json:"num" validate:"required"`
	Exp      int    `json:"exp" validate:"gte=0"`
}

// Sales 购买、续期与试用。先确认余额，再调用开通接口，成功后才扣款记账
type Sales struct {
	store       *Store
	balance     *Balance
	provisioner Provisioner
	publisher   Publisher
	log         *logger.Logger
}

func NewSales(store *Store, balance *Balance, provisioner Provisioner, publisher Publisher, log *logger.Logger) *Sales {
	if log == nil {
		log = logger.Nop()
	}
	return &Sales{store: store, balance: balance, provisioner: provisioner, publisher: publisher, log: log}
}

func (s *Sales) Purchase(ctx context.Context, userID uint, req PurchaseRequest) (*model.Account, error) {
	server, err := s.server(ctx, req.ServerID, req.Type)
	if err != nil {
		return nil, err
	}
	days := req.Exp
	if days <= 0 {
		days = DefaultDays
	}
	price := Price(server.BasePrice(req.Type), days)
	if err := s.ensureFunds(ctx, userID, price); err != nil {
		return nil, err
	}

	defaults := server.Defaults.Data()
	create := provision.CreateRequest{
		Type:     req.Type,
		User:     req.User,
		Password: req.Password,
		Exp:      days,
		LimitIP:  req.LimitIP,
		Quota:    req.Quota,
	}
	if create.LimitIP == 0 {
		create.LimitIP = defaults.LimitIP
	}
	if create.Quota == 0 {
		create.Quota = defaults.Quota
	}
	res, err := s.provisioner.Create(ctx, target(server), create)
	if err != nil {
		return nil, s.provisionError("create_api_error", err)
	}

	now := s.store.now()
	account := &model.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		ServerID:  server.ID,
		Type:      req.Type,
		Details:   datatypes.JSON(res.Data),
		Price:     price,
		CreatedAt: now,
	}
	t := s.saleTransaction(userID, model.TxKindPurchase, price, account.ID, now)
	err = s.store.locked(ctx, func(tx *gorm.DB) error {
		if err := s.balance.Debit(tx, userID, price); err != nil {
			return err
		}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(account).Error
	})
	if err != nil {
		if apperror.HasCode(err, "insufficient_balance") {
			// 开通已成功但余额被并发消耗
			s.log.Warn(ctx, "开通成功但扣款失败: "+req.Type+" "+server.ID, err)
		}
		return nil, wrap(err)
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, notify.Event{Kind: notify.EventPurchase, UserID: userID, AccountType: req.Type, Amount: price})
	}
	return account, nil
}

func (s *Sales) Renew(ctx context.Context, userID uint, req RenewRequest) (*model.Transaction, error) {
	server, err := s.server(ctx, req.ServerID, req.Type)
	if err != nil {
		return nil, err
	}
	days := req.Exp
	if days <= 0 {
		days = DefaultDays
	}
	price := Price(server.BasePrice(req.Type), days)
	if err := s.ensureFunds(ctx, userID, price); err != nil {
		return nil, err
	}

	if _, err := s.provisioner.Renew(ctx, target(server), provision.RenewRequest{Type: req.Type, Num: req.Num, Exp: days}); err != nil {
		return nil, s.provisionError("renew_api_error", err)
	}

	t := s.saleTransaction(userID, model.TxKindRenew, price, req.Num, s.store.now())
	err = s.store.locked(ctx, func(tx *gorm.DB) error {
		if err := s.balance.Debit(tx, userID, price); err != nil {
			return err
		}
		return tx.Create(t).Error
	})
	if err != nil {
		if apperror.HasCode(err, "insufficient_balance") {
			s.log.Warn(ctx, "续期成功但扣款失败: "+req.Type+" "+req.Num, err)
		}
		return nil, wrap(err)
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, notify.Event{Kind: notify.EventRenew, UserID: userID, AccountType: req.Type, Amount: price})
	}
	return t, nil
}

// Trial 试用账号不计费
func (s *Sales) Trial(ctx context.Context, userID uint, req PurchaseRequest) (*model.Account, error) {
	server, err := s.server(ctx, req.ServerID, req.Type)
	if err != nil {
		return nil, err
	}
	defaults := server.Defaults.Data()
	trial := provision.CreateRequest{Type: req.Type, User: req.User, Exp: req.Exp, LimitIP: req.LimitIP, Quota: req.Quota}
	if trial.LimitIP == 0 {
		trial.LimitIP = defaults.LimitIP
	}
	if trial.Quota == 0 {
		trial.Quota = defaults.Quota
	}
	res, err := s.provisioner.Trial(ctx, target(server), trial)
	if err != nil {
		return nil, s.provisionError("trial_api_error", err)
	}

	account := &model.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		ServerID:  server.ID,
		Type:      req.Type,
		Details:   datatypes.JSON(res.Data),
		Trial:     true,
		CreatedAt: s.store.now(),
	}
	if err := s.store.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return account, nil
}

func (s *Sales) Accounts(ctx context.Context, userID uint) ([]model.Account, error) {
	var list []model.Account
	if err := s.store.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&list).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return list, nil
}

func (s *Sales) server(ctx context.Context, id, kind string) (*model.Server, error) {
	var server model.Server
	err := s.store.db.WithContext(ctx).First(&server, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("server_not_found")
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if !knownType(kind) {
		return nil, apperror.Validation("unknown_type")
	}
	if !server.TypeEnabled(kind) {
		return nil, apperror.Validation("type_not_available").With("type", kind)
	}
	return &server, nil
}

func (s *Sales) ensureFunds(ctx context.Context, userID uint, price int64) error {
	available, err := s.balance.Available(ctx, userID)
	if err != nil {
		return err
	}
	if available < price {
		return apperror.Conflict("insufficient_balance").With("balance", available).With("price", price)
	}
	return nil
}

func (s *Sales) saleTransaction(userID uint, kind string, price int64, reference string, now time.Time) *model.Transaction {
	return &model.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Amount:    price,
		Total:     price,
		Status:    model.TxStatusSuccess,
		PaidAt:    &now,
		Reference: reference,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Sales) provisionError(code string, err error) error {
	if errors.Is(err, provision.ErrUnknownType) {
		return apperror.Validation("unknown_type")
	}
	s.store.metrics.CollaboratorError("provision")
	var failed *provision.FailedError
	if errors.As(err, &failed) {
		return apperror.Dependency("external_failed", err).With("details", failed.Message)
	}
	return collaboratorError(code, err)
}

func target(server *model.Server) provision.Target {
	return provision.Target{Domain: server.Domain, Auth: server.Auth}
}

func knownType(kind string) bool {
	for _, t := range model.AccountTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// collaboratorError 保留对端原始响应，便于调用方排查
func collaboratorError(code string, err error) error {
	var payErr *payment.APIError
	if errors.As(err, &payErr) {
		return apperror.Dependency(code, err).With("details", payErr.Body)
	}
	var provErr *provision.APIError
	if errors.As(err, &provErr) {
		return apperror.Dependency(code, err).With("details", provErr.Body)
	}
	return apperror.Dependency(code, err).With("details", err.Error())
}
