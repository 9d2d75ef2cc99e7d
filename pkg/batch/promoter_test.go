// Copyright 2025 Ceramic Network

package batch

import (
	"context"
	"testing"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ceramicnetwork/cas-anchor/pkg/config"
	"github.com/ceramicnetwork/cas-anchor/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequestStore struct {
	markReadyResult []*cas.Request
	markReadyErr    error
	gotMaxStreams   int
	gotMinStreams   int
	gotCfg          database.PromotionConfig

	expiringResult int
	expiringErr    error
	gotReadyTO     time.Duration

	gcResult []*cas.Request
	gcErr    error
	gotGCExp time.Duration
}

func (f *fakeRequestStore) FindAndMarkReady(ctx context.Context, maxStreams, minStreams int, cfg database.PromotionConfig) ([]*cas.Request, error) {
	f.gotMaxStreams, f.gotMinStreams, f.gotCfg = maxStreams, minStreams, cfg
	return f.markReadyResult, f.markReadyErr
}

func (f *fakeRequestStore) UpdateExpiringReadyRequests(ctx context.Context, readyTimeout time.Duration) (int, error) {
	f.gotReadyTO = readyTimeout
	return f.expiringResult, f.expiringErr
}

func (f *fakeRequestStore) FindRequestsToGarbageCollect(ctx context.Context, expiry time.Duration) ([]*cas.Request, error) {
	f.gotGCExp = expiry
	return f.gcResult, f.gcErr
}

func testConfig() *config.Config {
	return &config.Config{
		MaxStreamLimit:         1024,
		MinStreamLimit:         1,
		MaxAnchoringDelayMS:    300_000,
		ProcessingTimeoutMS:    120_000,
		ReadyTimeoutMS:         600_000,
		FailureRetryWindowMS:   86_400_000,
		GarbageCollectExpiryMS: 604_800_000,
	}
}

func TestNewPromoterRejectsNilStore(t *testing.T) {
	_, err := NewPromoter(nil, testConfig())
	assert.ErrorIs(t, err, ErrNilRequestStore)
}

func TestPromoteReadyPassesPolicyThrough(t *testing.T) {
	store := &fakeRequestStore{markReadyResult: []*cas.Request{{ID: "r1"}}}
	p, err := NewPromoter(store, testConfig())
	require.NoError(t, err)

	got, err := p.PromoteReady(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1024, store.gotMaxStreams)
	assert.Equal(t, 1, store.gotMinStreams)
	assert.Equal(t, 300_000*time.Millisecond, store.gotCfg.MaxAnchoringDelay)
	assert.Equal(t, 120_000*time.Millisecond, store.gotCfg.ProcessingTimeout)
	assert.Equal(t, 86_400_000*time.Millisecond, store.gotCfg.FailureRetryWindow)
}

func TestRecoverExpiredReadyUsesReadyTimeout(t *testing.T) {
	store := &fakeRequestStore{expiringResult: 3}
	p, err := NewPromoter(store, testConfig())
	require.NoError(t, err)

	n, err := p.RecoverExpiredReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 600_000*time.Millisecond, store.gotReadyTO)
}

func TestGarbageCollectUsesExpiryWindow(t *testing.T) {
	store := &fakeRequestStore{gcResult: []*cas.Request{{ID: "r1"}, {ID: "r2"}}}
	p, err := NewPromoter(store, testConfig())
	require.NoError(t, err)

	reqs, err := p.GarbageCollect(context.Background())
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
	assert.Equal(t, 604_800_000*time.Millisecond, store.gotGCExp)
}
