package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendRespectsCapacity(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Append([]byte("1234")))
	require.Equal(t, 4, b.Len())
	require.Equal(t, 4, b.Room())

	require.ErrorIs(t, b.Append([]byte("12345")), ErrFull)
	require.Equal(t, 4, b.Len(), "a failed Append must not partially write")
}

func TestFullIsTheBackPressureSignal(t *testing.T) {
	b := New(4)
	require.False(t, b.Full())
	require.NoError(t, b.Append([]byte("abcd")))
	require.True(t, b.Full())
}

func TestConsumeShiftsRemainder(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Append([]byte("hello world")))
	b.Consume(6)
	require.Equal(t, "world", string(b.View()))
	require.Equal(t, 16, b.Room()+b.Len())
}

func TestConsumeBeyondLengthClears(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Append([]byte("hi")))
	b.Consume(100)
	require.True(t, b.Empty())
}

func TestClear(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append([]byte("ab")))
	b.Clear()
	require.True(t, b.Empty())
	require.Equal(t, 4, b.Room())
}
