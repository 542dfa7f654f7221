package pipe

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	t.Run("SendWithoutHandler", func(t *testing.T) {
		s := NewSource[int]()
		assert.ErrorIs(t, s.Send(1), ErrNoHandler)
		assert.False(t, s.IsWired())
	})

	t.Run("SingleHandler", func(t *testing.T) {
		s := NewSource[int]()
		var got []int
		require.NoError(t, s.SetHandler(HandlerFunc[int](func(v int) error {
			got = append(got, v)
			return nil
		})))
		assert.True(t, s.IsWired())

		err := s.SetHandler(HandlerFunc[int](func(int) error { return nil }))
		assert.ErrorIs(t, err, ErrHandlerAlreadySet)

		for i := 0; i < 5; i++ {
			require.NoError(t, s.Send(i))
		}
		assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	})

	t.Run("HandlerErrorPropagates", func(t *testing.T) {
		s := NewSource[int]()
		boom := errors.New("boom")
		require.NoError(t, s.SetHandler(HandlerFunc[int](func(int) error { return boom })))
		assert.ErrorIs(t, s.Send(1), boom)
	})
}

func TestProcessingPipe(t *testing.T) {
	t.Run("ConsumeOrForward", func(t *testing.T) {
		source := NewSource[int]()
		evens := NewProcessingPipe(func(v int, out InputPipe[int]) error {
			if v%2 != 0 {
				return nil
			}
			return out.Send(v)
		})

		out, err := Through[int, int](source, evens)
		require.NoError(t, err)

		var got []int
		require.NoError(t, Into(out, HandlerFunc[int](func(v int) error {
			got = append(got, v)
			return nil
		})))

		for i := 0; i < 6; i++ {
			require.NoError(t, source.Send(i))
		}
		assert.Equal(t, []int{0, 2, 4}, got)
	})

	t.Run("RewireFails", func(t *testing.T) {
		source := NewSource[int]()
		p := NewMappingPipe(func(v int) (int, error) { return v, nil })
		_, err := p.ProcessPipe(source)
		require.NoError(t, err)

		_, err = NewMappingPipe(func(v int) (int, error) { return v, nil }).ProcessPipe(source)
		assert.ErrorIs(t, err, ErrHandlerAlreadySet)
	})
}

func TestMappingPipeChain(t *testing.T) {
	source := NewSource[int]()
	toString := NewMappingPipe(func(v int) (string, error) { return strconv.Itoa(v), nil })
	addSuffix := NewMappingPipe(func(v string) (string, error) { return v + "!", nil })

	strs, err := Through[int, string](source, toString)
	require.NoError(t, err)
	out, err := Through[string, string](strs, addSuffix)
	require.NoError(t, err)

	var got []string
	require.NoError(t, Into(out, HandlerFunc[string](func(v string) error {
		got = append(got, v)
		return nil
	})))

	require.NoError(t, source.Send(7))
	require.NoError(t, source.Send(8))
	assert.Equal(t, []string{"7!", "8!"}, got)
}

func TestMappingPipeError(t *testing.T) {
	source := NewSource[int]()
	bad := errors.New("bad value")
	m := NewMappingPipe(func(v int) (int, error) {
		if v < 0 {
			return 0, bad
		}
		return v, nil
	})
	out, err := Through[int, int](source, m)
	require.NoError(t, err)

	called := false
	require.NoError(t, Into(out, HandlerFunc[int](func(int) error {
		called = true
		return nil
	})))

	assert.ErrorIs(t, source.Send(-1), bad)
	assert.False(t, called)
}
