package ewelink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DefaultOrder(t *testing.T) {
	resolver := NewResolver(nil)
	assert.Equal(t, []Region{RegionUS, RegionEU, RegionAsia, RegionCN}, resolver.Regions())
}

func TestResolver_BaseURL(t *testing.T) {
	resolver := NewResolver(map[Region]string{
		RegionEU: "http://localhost:9999",
	})

	url, err := resolver.BaseURL(RegionEU)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", url)

	url, err = resolver.BaseURL(RegionUS)
	require.NoError(t, err)
	assert.Equal(t, "https://us-apia.coolkit.cc", url)

	_, err = resolver.BaseURL(Region("mars"))
	assert.Error(t, err)
}

func TestResolver_Remember(t *testing.T) {
	resolver := NewResolver(nil)
	resolver.Remember(RegionAsia)

	assert.Equal(t, []Region{RegionAsia, RegionUS, RegionEU, RegionCN}, resolver.Regions())

	// Remembering again is idempotent.
	resolver.Remember(RegionAsia)
	assert.Equal(t, []Region{RegionAsia, RegionUS, RegionEU, RegionCN}, resolver.Regions())
}

func TestResolver_TryEach_FirstSuccess(t *testing.T) {
	resolver := NewResolver(nil)

	var probed []Region
	region, err := resolver.TryEach(context.Background(), func(ctx context.Context, region Region, baseURL string) error {
		probed = append(probed, region)
		if region == RegionEU {
			return nil
		}
		return errors.New("wrong region")
	})

	require.NoError(t, err)
	assert.Equal(t, RegionEU, region)
	assert.Equal(t, []Region{RegionUS, RegionEU}, probed, "must stop at the first success")

	// The successful region is promoted for subsequent probes.
	assert.Equal(t, RegionEU, resolver.Regions()[0])
}

func TestResolver_TryEach_Exhaustion(t *testing.T) {
	resolver := NewResolver(nil)

	_, err := resolver.TryEach(context.Background(), func(ctx context.Context, region Region, baseURL string) error {
		return fmt.Errorf("%s unavailable", region)
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 4, "one failure per region")

	for i, region := range DefaultRegionOrder {
		assert.Equal(t, region, exhausted.Failures[i].Region)
		assert.EqualError(t, exhausted.Failures[i].Err, fmt.Sprintf("%s unavailable", region))
	}
}

func TestResolver_TryEach_Cancelled(t *testing.T) {
	resolver := NewResolver(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, err := resolver.TryEach(ctx, func(ctx context.Context, region Region, baseURL string) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls, "cancellation must stop before the next probe")
}
