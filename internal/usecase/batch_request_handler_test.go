package usecase

import (
	"context"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"
	"TradeWatch/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatchMessage(t *testing.T) {
	req, err := decodeBatchMessage(context.Background(), []byte(`{"symbols":"600519, 000001"}`))
	require.NoError(t, err)
	assert.Equal(t, "600519, 000001", req.Symbols)
	assert.Equal(t, "parallel", req.Mode)
	assert.Equal(t, 3, req.MaxWorkers)
	assert.Equal(t, 300, req.TimeoutSeconds)
	assert.Equal(t, "1y", req.Period)

	req, err = decodeBatchMessage(context.Background(), []byte(`{"symbols":["AAPL","MSFT"],"mode":"sequential"}`))
	require.NoError(t, err)
	assert.Equal(t, "AAPL,MSFT", req.Symbols)

	for _, bad := range []string{`not json`, `{"symbols":42}`, `{}`, `{"symbols":"A","max_workers":50}`} {
		_, err := decodeBatchMessage(context.Background(), []byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestBatchRequestHandler_StartsBatch(t *testing.T) {
	u := newTestUsecase(&fakeAnalysis{}, nil, nil, nil)
	h := NewBatchRequestHandler("analysis.requests", u, metrics.Nop{}, nil)
	assert.Equal(t, "analysis.requests", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbols":"A B C","max_workers":2,"timeout_seconds":5}`)))
	require.Eventually(t, func() bool {
		list := u.Batches()
		return len(list) == 1 && list[0].State == models.BatchCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, u.Batches()[0].Succeeded)

	// malformed input is dropped, not retried
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"symbols":""}`)))
	assert.NoError(t, h.Handle(context.Background(), []byte(`garbage`)))
	assert.Len(t, u.Batches(), 1)
}
