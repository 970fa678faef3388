package provider

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/index"
	"github.com/roach88/packdelivery/internal/manifest"
	"github.com/roach88/packdelivery/internal/orchestrator"
	"github.com/roach88/packdelivery/internal/platform"
	"github.com/roach88/packdelivery/internal/resolver"
	"github.com/roach88/packdelivery/internal/testutil"
)

func deliveryAware(t *testing.T, f *testutil.FakePlatform) (*Provider, *orchestrator.Orchestrator) {
	t.Helper()
	idx := index.New(&manifest.Delivery{
		Version:         manifest.FormatVersion,
		BaseContentRoot: "StreamingAssets",
		UnitAssetsRoot:  "assets/content",
		Units: []manifest.Unit{
			{Name: delivery.InstallTimeAggregate, DeliveryType: delivery.InstallTime},
			{Name: "Level1", DeliveryType: delivery.OnDemand, Bundles: []string{"level1"}},
		},
	})
	o := orchestrator.New(f, idx,
		orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		orchestrator.WithIDGenerator(testutil.NewSequentialIDs("")),
		orchestrator.WithPollInterval(time.Millisecond),
	)
	t.Cleanup(o.Close)
	return DeliveryAware(resolver.New(idx, o), o), o
}

func installedUnit(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Level1", "assets", "content")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "level1.bundle"), []byte("level one"), 0o644))
	return dir
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testutil.WaitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestPlain(t *testing.T) {
	p := Plain()
	assert.Equal(t, CapabilityPlain, p.Capability())
	assert.Equal(t, "plain", p.Capability().String())

	got, err := p.Locate(context.Background(), resolver.Bundle("StreamingAssets/level1.bundle"))
	require.NoError(t, err)
	assert.Equal(t, "StreamingAssets/level1.bundle", got)

	var async string
	p.LocateAsync(context.Background(), resolver.Bundle("StreamingAssets/level1.bundle"), func(path string, err error) {
		require.NoError(t, err)
		async = path
	})
	assert.Equal(t, "StreamingAssets/level1.bundle", async)
}

func TestDeliveryAware_Locate(t *testing.T) {
	dir := installedUnit(t)
	f := testutil.NewFakePlatform().
		Script("Level1", platform.StatusDownloading, platform.StatusCompleted).
		SetPath("Level1", dir)
	p, _ := deliveryAware(t, f)
	assert.Equal(t, "delivery-aware", p.Capability().String())

	got, err := p.Locate(waitCtx(t), resolver.Bundle("StreamingAssets/level1.bundle"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "level1.bundle"), got)

	rc, err := p.Open(waitCtx(t), resolver.Bundle("StreamingAssets/level1.bundle"))
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "level one", string(body))

	assert.Len(t, f.Calls(), 1, "second lookup is served from the index")
}

func TestDeliveryAware_BaseContentSkipsOrchestrator(t *testing.T) {
	f := testutil.NewFakePlatform()
	p, _ := deliveryAware(t, f)

	got, err := p.Locate(waitCtx(t), resolver.Bundle("StreamingAssets/ui.bundle"))
	require.NoError(t, err)
	assert.Equal(t, "StreamingAssets/ui.bundle", got)

	got, err = p.Locate(waitCtx(t), resolver.Location{Kind: resolver.KindOther, InternalID: "StreamingAssets/level1.bundle"})
	require.NoError(t, err)
	assert.Equal(t, "StreamingAssets/level1.bundle", got)
	assert.Empty(t, f.Calls())
}

func TestDeliveryAware_FailureReturnsDefault(t *testing.T) {
	f := testutil.NewFakePlatform().Script("Level1", platform.StatusUnavailable)
	p, _ := deliveryAware(t, f)

	got, err := p.Locate(waitCtx(t), resolver.Bundle("StreamingAssets/level1.bundle"))
	require.Error(t, err)
	assert.True(t, delivery.IsDeliveryError(err))
	assert.Contains(t, err.Error(), "Level1")
	assert.Equal(t, "StreamingAssets/level1.bundle", got)

	_, err = p.Open(waitCtx(t), resolver.Bundle("StreamingAssets/level1.bundle"))
	assert.Error(t, err)
}

func TestDeliveryAware_LocateAsync(t *testing.T) {
	dir := installedUnit(t)
	f := testutil.NewFakePlatform().
		Script("Level1", platform.StatusCompleted).
		SetPath("Level1", dir)
	p, o := deliveryAware(t, f)

	results := make(chan string, 1)
	p.LocateAsync(context.Background(), resolver.Bundle("StreamingAssets/level1.bundle"), func(path string, err error) {
		assert.NoError(t, err)
		results <- path
	})

	select {
	case <-results:
		t.Fatal("completed before any dispatch cycle")
	default:
	}

	require.Eventually(t, func() bool {
		o.Tick(context.Background())
		return len(results) == 1
	}, testutil.WaitFor, testutil.PollEvery)
	assert.Equal(t, filepath.Join(dir, "level1.bundle"), <-results)
}
