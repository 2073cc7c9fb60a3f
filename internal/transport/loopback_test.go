package transport

import (
	"context"
	"testing"

	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoopback(t *testing.T) {
	l := NewLoopback(logger.Nop())
	rec := newStatusRecorder(2)

	require.NoError(t, l.SubmitAsync(context.Background(), []byte{1, 2, 3}, rec.done))
	assert.NoError(t, rec.next(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.SubmitAsync(ctx, []byte{1}, rec.done))
	assert.Equal(t, unix.ENOENT, rec.next(t))

	require.NoError(t, l.Reset())
	require.NoError(t, l.Close())
	assert.Equal(t, unix.ESHUTDOWN, l.SubmitAsync(context.Background(), []byte{1}, rec.done))
}
