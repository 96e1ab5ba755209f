package divider_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/seamhand/divider"
	"github.com/xtaci/seamhand/transport/transporttest"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func roundTrip(t *testing.T, a, b interface {
	io.Reader
	io.Writer
}, payload []byte) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := a.Write(payload)
		assert.NoError(t, err)
	}()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	for len(got) < len(payload) {
		n, err := b.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	wg.Wait()
	assert.True(t, bytes.Equal(payload, got))
}

func dividedPair(t *testing.T) (dataA, ctrlA, dataB, ctrlB interface {
	io.Reader
	io.Writer
}) {
	t.Helper()
	tA, tB := transporttest.Pair(1, "primary", transporttest.Options{})
	da, ca := divider.Divide(tA)
	db, cb := divider.Divide(tB)
	return da, ca, db, cb
}

func TestDividerOneChildIdle(t *testing.T) {
	dataA, _, dataB, _ := dividedPair(t)
	roundTrip(t, dataA, dataB, randomBytes(t, 32*1024))
}

func TestDividerOtherChildIdle(t *testing.T) {
	_, ctrlA, _, ctrlB := dividedPair(t)
	roundTrip(t, ctrlA, ctrlB, randomBytes(t, 32*1024))
}

func TestDividerBothChildrenInterleaved(t *testing.T) {
	dataA, ctrlA, dataB, ctrlB := dividedPair(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		roundTrip(t, dataA, dataB, randomBytes(t, 16*1024))
	}()
	go func() {
		defer wg.Done()
		roundTrip(t, ctrlA, ctrlB, randomBytes(t, 16*1024))
	}()
	wg.Wait()
}

func TestDividerSharesParentIdentity(t *testing.T) {
	tA, _ := transporttest.Pair(7, "shared-label", transporttest.Options{})
	data, control := divider.Divide(tA)
	assert.Equal(t, uint16(7), data.ID())
	assert.Equal(t, "shared-label", data.Label())
	assert.Equal(t, uint16(7), control.ID())
	assert.Equal(t, "shared-label", control.Label())
}
