package service

import (
	"context"
	"fmt"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/money"
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	money      *money.Toolkit
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	toolkit *money.Toolkit,
) ports.ReportingService {
	return &reportingService{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		money:      toolkit,
	}
}

// GetDashboardStats returns per-currency transaction stats for the user.
func (s *reportingService) GetDashboardStats(ctx context.Context, userID uuid.UUID, period string) ([]domain.TransactionStats, error) {
	var since *time.Time
	now := s.money.Now()

	switch period {
	case "day":
		t := now.AddDate(0, 0, -1)
		since = &t
	case "week":
		t := now.AddDate(0, 0, -7)
		since = &t
	case "month":
		t := now.AddDate(0, -1, 0)
		since = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	stats, err := s.txRepo.GetStats(ctx, userID, since)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("transaction stats: %w", err))
	}
	for i := range stats {
		stats[i].FormattedVolume = s.money.FormatCurrency(stats[i].CompletedVolume, stats[i].Currency)
	}
	return stats, nil
}

// ListTransactions returns a page of the user's transactions.
func (s *reportingService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, int64, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	txns, total, err := s.txRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

// GetWalletBalances summarises every wallet the user holds.
func (s *reportingService) GetWalletBalances(ctx context.Context, userID uuid.UUID) ([]ports.WalletBalance, error) {
	wallets, err := s.walletRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}

	balances := make([]ports.WalletBalance, 0, len(wallets))
	for _, w := range wallets {
		balances = append(balances, ports.WalletBalance{
			WalletID:           w.ID,
			Currency:           w.Currency,
			Status:             w.Status,
			Balance:            w.Balance,
			AvailableBalance:   w.AvailableBalance,
			ReservedBalance:    w.ReservedBalance,
			FormattedBalance:   s.money.FormatCurrency(w.Balance, w.Currency),
			FormattedAvailable: s.money.FormatCurrency(w.AvailableBalance, w.Currency),
		})
	}
	return balances, nil
}
