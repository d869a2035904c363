package vaultfs

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelMap(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	configs := map[string]ParallelConfig{
		"sequential": {Enabled: false},
		"parallel":   {Enabled: true, MaxWorkers: 4, MinItemsForParallel: 1},
		"below min":  {Enabled: true, MaxWorkers: 4, MinItemsForParallel: 100},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			results, errs := parallelMap(context.Background(), cfg, items, func(i int) (string, error) {
				if i%10 == 0 {
					return "", errors.New("bad item")
				}
				if i == 7 {
					panic("boom")
				}
				return strconv.Itoa(i), nil
			})
			require.Len(t, results, len(items))
			for i := range items {
				switch {
				case i%10 == 0:
					assert.Error(t, errs[i])
				case i == 7:
					assert.ErrorContains(t, errs[i], "panic")
				default:
					assert.NoError(t, errs[i])
					assert.Equal(t, strconv.Itoa(i), results[i])
				}
			}
		})
	}
}

func TestParallelMap_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, errs := parallelMap(ctx, DefaultParallelConfig(), []int{1, 2, 3}, func(i int) (int, error) { return i, nil })
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestParallelConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ParallelConfig
		wantErr bool
	}{
		{name: "disabled", config: ParallelConfig{Enabled: false, MaxWorkers: -1}},
		{name: "default", config: DefaultParallelConfig()},
		{name: "negative workers", config: ParallelConfig{Enabled: true, MaxWorkers: -1, MinItemsForParallel: 1}, wantErr: true},
		{name: "too many workers", config: ParallelConfig{Enabled: true, MaxWorkers: 2000, MinItemsForParallel: 1}, wantErr: true},
		{name: "zero threshold", config: ParallelConfig{Enabled: true, MaxWorkers: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
