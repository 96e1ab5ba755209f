package coordinator_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/seamhand/coordinator"
	"github.com/xtaci/seamhand/divider"
	"github.com/xtaci/seamhand/transport"
	"github.com/xtaci/seamhand/transport/transporttest"
	"github.com/xtaci/seamhand/wire"
)

func endpoint(t *testing.T, label string, primary transport.Transport) (
	notifier *coordinator.Notifier,
	coord *coordinator.Coordinator,
	data interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	},
) {
	t.Helper()
	d, c := divider.Divide(primary)
	notifier, coord = coordinator.Run(label, c, d)
	return notifier, coord, d
}

func awaitReaderFilled(t *testing.T, c *coordinator.Coordinator) ([]byte, bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, buf, ok := c.UpgradeReader(); ok {
			return buf, true
		}
		select {
		case <-deadline:
			return nil, false
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCoordinatorHandshakeCompletesBothSides(t *testing.T) {
	primaryA, primaryB := transporttest.Pair(1, "primary", transporttest.Options{})
	upA, coordA, _ := endpoint(t, "A", primaryA)
	upB, coordB, _ := endpoint(t, "B", primaryB)

	upgradeA, upgradeB := transporttest.Pair(2, "upgrade", transporttest.Options{})
	upA.Notify(upgradeA)
	upB.Notify(upgradeB)

	_, okA := awaitReaderFilled(t, coordA)
	_, okB := awaitReaderFilled(t, coordB)
	require.True(t, okA)
	require.True(t, okB)

	_, writerOkA := coordA.UpgradeWriter()
	_, writerOkB := coordB.UpgradeWriter()
	assert.True(t, writerOkA)
	assert.True(t, writerOkB)
}

func TestCoordinatorHandshakeSequentialUpgrade(t *testing.T) {
	primaryA, primaryB := transporttest.Pair(7, "primary", transporttest.Options{})
	upA, coordA, _ := endpoint(t, "A", primaryA)
	upB, coordB, _ := endpoint(t, "B", primaryB)

	upgradeA, upgradeB := transporttest.Pair(8, "upgrade", transporttest.Options{})

	// A's upgrade transport arrives well before B's: A's Sync reaches B
	// before B has a writer of its own. The earlier Sync must not be lost.
	upA.Notify(upgradeA)
	time.Sleep(50 * time.Millisecond)
	upB.Notify(upgradeB)

	_, okA := awaitReaderFilled(t, coordA)
	_, okB := awaitReaderFilled(t, coordB)
	require.True(t, okA)
	require.True(t, okB)

	_, writerOkA := coordA.UpgradeWriter()
	_, writerOkB := coordB.UpgradeWriter()
	assert.True(t, writerOkA)
	assert.True(t, writerOkB)
}

func TestCoordinatorAbortsOnNonceMismatch(t *testing.T) {
	primary, primaryPeer := transporttest.Pair(4, "primary", transporttest.Options{})
	go io.Copy(io.Discard, primaryPeer)

	control, controlPeer := transporttest.Pair(5, "control", transporttest.Options{})
	notifier, coord := coordinator.Run("victim", control, primary)

	upgrade, _ := transporttest.Pair(6, "upgrade", transporttest.Options{})
	notifier.Notify(upgrade)

	// Wait for the coordinator's Sync (it needs a writer first), then
	// reply with a SyncAck carrying a nonce it never sent.
	_, err := wire.ReadControl(controlPeer)
	require.NoError(t, err)
	require.NoError(t, wire.WriteControl(controlPeer, wire.SyncAck{TheirID: "not-our-nonce", OurID: "peer"}))

	deadline := time.After(200 * time.Millisecond)
	for {
		if _, writerOk := coord.UpgradeWriter(); writerOk {
			t.Fatal("writer slot should never fill after a nonce mismatch")
		}
		select {
		case <-deadline:
			_, _, readerOk := coord.UpgradeReader()
			assert.False(t, readerOk)
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCoordinatorLocalErrorLeavesPrimaryUsable(t *testing.T) {
	primary, peer := transporttest.Pair(3, "solo", transporttest.Options{})
	// drain the peer side so writes on primary's data sub-channel don't
	// block waiting for a reader.
	go io.Copy(io.Discard, peer)

	notifier, coord, data := endpoint(t, "solo", primary)
	notifier.Close()

	// Give the event loop a moment to observe the closed notifier and
	// return without publishing anything.
	time.Sleep(20 * time.Millisecond)

	_, writerOk := coord.UpgradeWriter()
	_, _, readerOk := coord.UpgradeReader()
	assert.False(t, writerOk)
	assert.False(t, readerOk)

	_, err := data.Write([]byte("still usable"))
	assert.NoError(t, err)
}
