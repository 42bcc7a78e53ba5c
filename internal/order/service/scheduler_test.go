package service

import (
	"errors"
	"testing"

	"github.com/ridloal/order-payment-service/internal/order/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestExpiryScheduler_RunOnce(t *testing.T) {
	svc := new(mocks.MockOrderService)
	svc.On("ExpireStalePayments", mock.Anything).Return(2, nil).Once()
	svc.On("ExpireStalePayments", mock.Anything).Return(0, errors.New("db down")).Once()

	s := NewExpiryScheduler(svc, "@every 1m")
	s.RunOnce()
	s.RunOnce()

	svc.AssertExpectations(t)
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	svc := new(mocks.MockOrderService)

	s := NewExpiryScheduler(svc, "@every 1h")
	require.NoError(t, s.Start())
	<-s.Stop().Done()
	svc.AssertNotCalled(t, "ExpireStalePayments", mock.Anything)
}

func TestExpiryScheduler_InvalidSchedule(t *testing.T) {
	s := NewExpiryScheduler(new(mocks.MockOrderService), "every now and then")
	assert.Error(t, s.Start())
}
