package retry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/superchain/gateway/test"
)

func TestDo(t *testing.T) {
	ctx := test.Context(t)
	config := FixedConfig{}

	count0 := 0
	err := Do(ctx, config, func() error {
		count0++
		if count0 == 10 {
			return errors.New("ten")
		}
		return Retriable(fmt.Errorf("%d", count0))
	})
	require.EqualError(t, err, "ten")

	count1 := 0
	ret1, err := Do1(ctx, config, func() (int, error) {
		count1++
		if count1 == 5 {
			return 5, errors.New("five")
		}
		return count1, Retriable(fmt.Errorf("%d", count1))
	})
	require.EqualError(t, err, "five")
	require.Equal(t, 5, ret1)
}

func TestDoMaxAttempts(t *testing.T) {
	ctx := test.Context(t)

	count := 0
	err := Do(ctx, FixedConfig{MaxAttempts: 3}, func() error {
		count++
		return Retriable(errors.New("nope"))
	})
	require.EqualError(t, err, "nope")
	require.Equal(t, 3, count)

	count = 0
	err = Do(ctx, ExpConfig{Scale: 2, MaxAttempts: 4}, func() error {
		count++
		return Retriable(errors.New("still no"))
	})
	require.EqualError(t, err, "still no")
	require.Equal(t, 4, count)
}

func TestRetriableNil(t *testing.T) {
	require.NoError(t, Retriable(nil))
}
