package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushStreamAssemblesChunks(t *testing.T) {
	s := newPushStream(2, 3, 48000)
	defer s.Close()

	s.push([]float32{1, 2, 3, 4})
	s.push([]float32{5, 6, 7, 8})

	f, err := s.Pull()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Channels)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, f.Samples)
	assert.Equal(t, []float32{7, 8}, s.carry)
}

func TestPushStreamCopiesCallbackBuffer(t *testing.T) {
	s := newPushStream(1, 2, 48000)
	defer s.Close()

	buf := []float32{0.5, 0.25}
	s.push(buf)
	buf[0] = 9

	f, err := s.Pull()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, f.Samples)
}

func TestPushStreamDropsWhenFull(t *testing.T) {
	s := newPushStream(1, 1, 48000)
	defer s.Close()

	for i := 0; i < pushQueueDepth+5; i++ {
		s.push([]float32{float32(i)})
	}
	assert.Equal(t, int64(5), s.Dropped())
}

func TestPushStreamTimesOut(t *testing.T) {
	s := newPushStream(1, 16, 48000)
	defer s.Close()
	s.timeout = 10 * time.Millisecond

	_, err := s.Pull()
	assert.ErrorIs(t, err, ErrPullTimeout)
}

func TestPushStreamClose(t *testing.T) {
	stopped := 0
	s := newPushStream(1, 16, 48000)
	s.stop = func() error {
		stopped++
		return nil
	}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, stopped)

	_, err := s.Pull()
	assert.ErrorIs(t, err, ErrStreamClosed)

	s.push([]float32{1})
	assert.Empty(t, s.queue)
}

func TestPushStreamTimeoutIsOneChunk(t *testing.T) {
	s := newPushStream(1, 480, 48000)
	defer s.Close()
	assert.Equal(t, 10*time.Millisecond, s.timeout)

	s.push([]float32{0.5})
	start := time.Now()
	_, err := s.Pull()
	assert.ErrorIs(t, err, ErrPullTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, []float32{0.5}, s.carry)

	s.push(make([]float32, 479))
	f, err := s.Pull()
	require.NoError(t, err)
	assert.Len(t, f.Samples, 480)
	assert.Equal(t, float32(0.5), f.Samples[0])
}
