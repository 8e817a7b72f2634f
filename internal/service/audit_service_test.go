package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"farm-payments/internal/core/domain"
	"farm-payments/internal/core/ports"
	"farm-payments/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	userID := uuid.New()
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, log *domain.AuditLog) error {
			assert.Equal(t, domain.AuditActionRefund, log.Action)
			assert.Equal(t, userID, *log.UserID)
			return nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &userID,
		Action:       domain.AuditActionRefund,
		ResourceType: "transaction",
		ResourceID:   uuid.New().String(),
		CreatedAt:    time.Now(),
	})
	cancel() // request ending must not drop the write
	svc.Flush()
}

func TestAuditService_Log_TakesClientIPFromContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	var got []string
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, log *domain.AuditLog) error {
			got = append(got, log.IPAddress)
			return nil
		},
	).Times(2)

	ctx := ports.WithClientIP(context.Background(), "197.248.10.4")
	svc.Log(ctx, &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionInvoiceSend})
	svc.Flush()
	svc.Log(ctx, &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionInvoiceSend, IPAddress: "10.0.0.9"})
	svc.Flush()

	assert.Equal(t, []string{"197.248.10.4", "10.0.0.9"}, got)
}

func TestAuditService_Log_RepoErrorIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	svc := NewAuditService(mockRepo, newTestLogger())
	svc.Log(context.Background(), &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionInvoiceSend})
	svc.Flush()
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())

	svc.Log(context.Background(), &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionPayrollRun,
		ResourceType: "payroll_period",
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})
	svc.Flush()
}
