package channel

import (
	"bytes"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/channeld/chainntnfs"
	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/htlcswitch"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
)

const (
	testTimeout       = 5 * time.Second
	testFundingAmount = btcutil.Amount(1_000_000)
)

// msgPipe delivers wire messages into the destination channel's inbox,
// re-serializing them on the way so both actors hold independent copies.
type msgPipe struct {
	mu   sync.Mutex
	dst  *Channel
	dead bool

	sent []lnwire.MessageType
}

func (p *msgPipe) SendMessage(msg lnwire.Message) error {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return nil
	}
	p.sent = append(p.sent, msg.MsgType())
	dst := p.dst
	p.mu.Unlock()

	var buf bytes.Buffer
	if _, err := lnwire.WriteMessage(&buf, msg, 0); err != nil {
		return err
	}
	decoded, err := lnwire.ReadMessage(&buf, 0)
	if err != nil {
		return err
	}

	dst.SendEvent(PeerMessage{Msg: decoded})
	return nil
}

func (p *msgPipe) numSent(mt lnwire.MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	for _, sent := range p.sent {
		if sent == mt {
			n++
		}
	}
	return n
}

// mockChain records all requests and lets the test deliver notifications.
type mockChain struct {
	mu     sync.Mutex
	target *Channel

	published []*wire.MsgTx
	confs     []chainntnfs.EventTag
	spends    []wire.OutPoint
}

func (m *mockChain) MakeFundingTx(amt btcutil.Amount, pkScript []byte) {
	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
	})
	fundingTx.AddTxOut(wire.NewTxOut(int64(amt), pkScript))

	m.target.SendEvent(chainntnfs.MakeFundingTxResponse{
		FundingTx:   fundingTx,
		OutputIndex: 0,
	})
}

func (m *mockChain) PublishAsap(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, tx)
}

func (m *mockChain) WatchConfirmed(txid chainhash.Hash, numConfs uint32,
	tag chainntnfs.EventTag) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.confs = append(m.confs, tag)
}

func (m *mockChain) WatchSpent(op wire.OutPoint, tag chainntnfs.EventTag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spends = append(m.spends, op)
}

func (m *mockChain) WatchLost(txid chainhash.Hash, numConfs uint32,
	tag chainntnfs.EventTag) {
}

func (m *mockChain) numPublished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// mockRelayer records HTLC lifecycle notifications.
type mockRelayer struct {
	mu       sync.Mutex
	binds    []*lnwire.UpdateAddHTLC
	adds     []*lnwire.UpdateAddHTLC
	fulfills []*lnwire.UpdateFulfillHTLC
	fails    []*lnwire.UpdateFailHTLC
}

func (m *mockRelayer) Bind(add *lnwire.UpdateAddHTLC,
	origin htlcswitch.Origin) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.binds = append(m.binds, add)
}

func (m *mockRelayer) ForwardAdd(add *lnwire.UpdateAddHTLC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds = append(m.adds, add)
}

func (m *mockRelayer) ForwardFulfill(fulfill *lnwire.UpdateFulfillHTLC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fulfills = append(m.fulfills, fulfill)
}

func (m *mockRelayer) ForwardFail(fail *lnwire.UpdateFailHTLC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = append(m.fails, fail)
}

func (m *mockRelayer) numFulfills() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fulfills)
}

// mockRouter collects submitted announcements.
type mockRouter struct {
	mu   sync.Mutex
	anns []lnwire.Message
}

func (m *mockRouter) SubmitAnnouncements(msgs ...lnwire.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anns = append(m.anns, msgs...)
}

// testNode is one side of a channel under test.
type testNode struct {
	channel *Channel
	chain   *mockChain
	relayer *mockRelayer
	router  *mockRouter
	pipe    *msgPipe

	mu     sync.Mutex
	states []State
}

func (n *testNode) stateTrace() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]State{}, n.states...)
}

func (n *testNode) info(t *testing.T) *Info {
	t.Helper()

	resp := make(chan *Info, 1)
	n.channel.SendEvent(CmdGetInfo{Resp: resp})
	select {
	case info := <-resp:
		return info
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for info")
		return nil
	}
}

func (n *testNode) stateData(t *testing.T) StateData {
	t.Helper()

	resp := make(chan StateData, 1)
	n.channel.SendEvent(CmdGetStateData{Resp: resp})
	select {
	case data := <-resp:
		return data
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for state data")
		return nil
	}
}

func waitForState(t *testing.T, n *testNode, want State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return n.channel.State() == want
	}, testTimeout, 10*time.Millisecond, "waiting for state %v", want)
}

func testKey(b byte) *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	raw[31] = b + 1
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}

func testParams(t *testing.T, keyBase byte,
	isFunder bool) *commitment.LocalParams {

	t.Helper()

	finalScript, err := input.CommitScriptUnencumbered(
		testKey(keyBase + 4).PubKey(),
	)
	require.NoError(t, err)

	return &commitment.LocalParams{
		ChannelConstraints: commitment.ChannelConstraints{
			DustLimit:        546,
			MaxPendingAmount: lnwire.NewMSatFromSatoshis(500_000),
			ChanReserve:      10_000,
			HtlcMinimum:      1_000,
			CsvDelay:         144,
			MaxAcceptedHtlcs: 10,
		},
		NodeID:               testKey(keyBase + 5).PubKey(),
		FundingPrivKey:       testKey(keyBase),
		RevocationBaseSecret: testKey(keyBase + 1),
		PaymentBaseSecret:    testKey(keyBase + 2),
		DelayBaseSecret:      testKey(keyBase + 3),
		ShaSeed: chainhash.Hash(
			sha256.Sum256([]byte{keyBase}),
		),
		DefaultFinalScript: finalScript,
		IsFunder:           isFunder,
	}
}

// newTestPair wires two channel actors back to back with mock
// collaborators.
func newTestPair(t *testing.T) (*testNode, *testNode) {
	t.Helper()

	newNode := func() *testNode {
		return &testNode{
			chain:   &mockChain{},
			relayer: &mockRelayer{},
			router:  &mockRouter{},
			pipe:    &msgPipe{},
		}
	}

	alice := newNode()
	bob := newNode()

	mkChannel := func(n *testNode) *Channel {
		ch := New(Config{
			Peer:    n.pipe,
			Chain:   n.chain,
			Relayer: n.relayer,
			Router:  n.router,
			NotifyEvent: func(ev ChannelEvent) {
				if sc, ok := ev.(ChannelChangedState); ok {
					n.mu.Lock()
					n.states = append(
						n.states, sc.Current,
					)
					n.mu.Unlock()
				}
			},
			Clock: clock.NewTestClock(
				time.Unix(1_000_000, 0),
			),
			BroadcastTicker: ticker.NewForce(time.Hour),
			MinimumDepth:    3,
			NodeKey:         testKey(0xA0),
		})
		return ch
	}

	alice.channel = mkChannel(alice)
	bob.channel = mkChannel(bob)

	alice.pipe.dst = bob.channel
	bob.pipe.dst = alice.channel
	alice.chain.target = alice.channel
	bob.chain.target = bob.channel

	require.NoError(t, alice.channel.Start())
	require.NoError(t, bob.channel.Start())
	t.Cleanup(func() {
		alice.channel.Stop()
		bob.channel.Stop()
	})

	return alice, bob
}

// openTestChannel drives both actors through the funding flow into NORMAL.
func openTestChannel(t *testing.T, alice, bob *testNode) {
	t.Helper()

	bob.channel.SendEvent(InitFundee{
		RemoteNodeID: testKey(0x15).PubKey(),
		LocalParams:  testParams(t, 0x60, false),
	})
	alice.channel.SendEvent(InitFunder{
		RemoteNodeID:  testKey(0x65).PubKey(),
		FundingAmount: testFundingAmount,
		PushAmount:    0,
		FeeRatePerKw:  600,
		LocalParams:   testParams(t, 0x10, true),
	})

	waitForState(t, alice, WaitForFundingConfirmed)
	waitForState(t, bob, WaitForFundingConfirmed)

	// The watcher reports the funding reaching its depth on both ends.
	conf := chainntnfs.ConfirmationEvent{
		Tag:         chainntnfs.BitcoinFundingDepthOK,
		BlockHeight: 400_000,
		TxIndex:     7,
	}
	alice.channel.SendEvent(conf)
	bob.channel.SendEvent(conf)

	waitForState(t, alice, Normal)
	waitForState(t, bob, Normal)
}

// TestHappyOpen is the happy-path funding scenario: both sides traverse the
// opening chain in order and end up NORMAL.
func TestHappyOpen(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	require.Equal(t, []State{
		WaitForAcceptChannel,
		WaitForFundingInternal,
		WaitForFundingSigned,
		WaitForFundingConfirmed,
		WaitForFundingLocked,
		Normal,
	}, alice.stateTrace())

	require.Equal(t, []State{
		WaitForOpenChannel,
		WaitForFundingCreated,
		WaitForFundingConfirmed,
		WaitForFundingLocked,
		Normal,
	}, bob.stateTrace())

	// The funder broadcast the funding transaction.
	require.Equal(t, 1, alice.chain.numPublished())

	info := alice.info(t)
	require.Equal(
		t, lnwire.NewMSatFromSatoshis(testFundingAmount),
		info.LocalBalance,
	)
	require.Equal(t, testFundingAmount, info.Capacity)
}

// TestAddFulfillFlow runs one HTLC from alice to bob, settled by bob, and
// checks both chains advanced twice with the relayer seeing the right
// notifications.
func TestAddFulfillFlow(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	var preimage [32]byte
	preimage[7] = 0x42
	rHash := sha256.Sum256(preimage[:])

	const htlcAmt = lnwire.MilliSatoshi(60_000_000)

	errChan := make(chan error, 1)
	alice.channel.SendEvent(CmdAddHTLC{
		Amount:      htlcAmt,
		PaymentHash: rHash,
		Expiry:      400_004,
		Commit:      true,
		Err:         errChan,
	})
	require.NoError(t, <-errChan)

	// Bob learns about the HTLC once it's locked in on both chains.
	require.Eventually(t, func() bool {
		bob.relayer.mu.Lock()
		defer bob.relayer.mu.Unlock()
		return len(bob.relayer.adds) == 1
	}, testTimeout, 10*time.Millisecond)

	bob.relayer.mu.Lock()
	htlcID := bob.relayer.adds[0].ID
	bob.relayer.mu.Unlock()

	bob.channel.SendEvent(CmdFulfillHTLC{
		ID:       htlcID,
		Preimage: preimage,
		Commit:   true,
	})

	// Alice's relayer sees the fulfill so it can settle upstream.
	require.Eventually(t, func() bool {
		return alice.relayer.numFulfills() == 1
	}, testTimeout, 10*time.Millisecond)

	// Wait for the dust to settle and check balances moved.
	require.Eventually(t, func() bool {
		info := alice.info(t)
		return info.LocalBalance ==
			lnwire.NewMSatFromSatoshis(testFundingAmount)-htlcAmt
	}, testTimeout, 10*time.Millisecond)

	// Both commitment chains advanced twice, and nothing is pending.
	aliceData, ok := alice.stateData(t).(*dataNormal)
	require.True(t, ok)
	require.EqualValues(t, 2, aliceData.commits.LocalCommit.Index)
	require.True(t, aliceData.commits.HasNoPendingHtlcs())

	bobData, ok := bob.stateData(t).(*dataNormal)
	require.True(t, ok)
	require.EqualValues(t, 2, bobData.commits.LocalCommit.Index)
	require.Equal(
		t, htlcAmt, bobData.commits.LocalCommit.Spec.ToLocal,
	)
}

// TestMutualClose drives a cooperative close with converging fees.
func TestMutualClose(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	errChan := make(chan error, 1)
	alice.channel.SendEvent(CmdClose{Err: errChan})
	require.NoError(t, <-errChan)

	waitForState(t, alice, Closing)
	waitForState(t, bob, Closing)

	// Both published a closing transaction and negotiated in very few
	// rounds: shutdown + at most a couple of closing_signed each.
	require.LessOrEqual(
		t, alice.pipe.numSent(lnwire.MsgClosingSigned), 3,
	)
	require.LessOrEqual(
		t, bob.pipe.numSent(lnwire.MsgClosingSigned), 3,
	)

	aliceData, ok := alice.stateData(t).(*dataClosing)
	require.True(t, ok)
	require.NotNil(t, aliceData.mutualClosePublished)

	// Confirmation of the close settles the channel for good.
	alice.channel.SendEvent(chainntnfs.ConfirmationEvent{
		Tag: chainntnfs.BitcoinCloseDone,
	})
	waitForState(t, alice, Closed)
}

// TestInvalidCommitSigForcesClose injects a commit_sig with a garbage
// signature and expects a unilateral close: our commitment hits the chain
// and the channel parks in CLOSING.
func TestInvalidCommitSigForcesClose(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	published := alice.chain.numPublished()

	// A validly encoded but meaningless signature.
	digest := sha256.Sum256([]byte("junk"))
	junkSig, err := lnwire.NewSigFromSignature(
		ecdsa.Sign(testKey(0x99), digest[:]),
	)
	require.NoError(t, err)

	info := alice.info(t)
	alice.channel.SendEvent(PeerMessage{Msg: &lnwire.CommitSig{
		ChanID:    info.ChanID,
		CommitSig: junkSig,
	}})

	waitForState(t, alice, Closing)

	aliceData, ok := alice.stateData(t).(*dataClosing)
	require.True(t, ok)
	require.NotNil(t, aliceData.localCommitPublished)

	// The commitment transaction went out, and bob was told off.
	require.Greater(t, alice.chain.numPublished(), published)
	require.Equal(t, 1, alice.pipe.numSent(lnwire.MsgError))
}

// TestReconnectReplaysUnacked disconnects both sides, queues an HTLC while
// offline, and expects exactly that update to be replayed and the sign round
// to complete after reconnection.
func TestReconnectReplaysUnacked(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	alice.channel.SendEvent(InputDisconnected{})
	bob.channel.SendEvent(InputDisconnected{})
	waitForState(t, alice, Offline)
	waitForState(t, bob, Offline)

	var preimage [32]byte
	preimage[3] = 0x33
	rHash := sha256.Sum256(preimage[:])

	errChan := make(chan error, 1)
	alice.channel.SendEvent(CmdAddHTLC{
		Amount:      20_000_000,
		PaymentHash: rHash,
		Expiry:      400_008,
		Err:         errChan,
	})
	require.NoError(t, <-errChan)

	addsBefore := alice.pipe.numSent(lnwire.MsgUpdateAddHTLC)

	// Reconnect: bob first so he's listening when alice replays.
	bob.channel.SendEvent(InputReconnected{Peer: bob.pipe})
	alice.channel.SendEvent(InputReconnected{Peer: alice.pipe})

	waitForState(t, alice, Normal)
	waitForState(t, bob, Normal)

	// The buffered add crossed the wire exactly once, and the commit
	// round it triggered completed on both sides.
	require.Eventually(t, func() bool {
		data, ok := alice.stateData(t).(*dataNormal)
		if !ok {
			return false
		}
		return data.commits.LocalCommit.Index == 1 &&
			len(data.commits.LocalCommit.Spec.Htlcs) == 1
	}, testTimeout, 10*time.Millisecond)

	require.Equal(
		t, addsBefore+1,
		alice.pipe.numSent(lnwire.MsgUpdateAddHTLC),
	)
}

// TestShutdownRejectsNewHtlcs makes sure no new HTLC can be added once a
// close has been initiated.
func TestShutdownRejectsNewHtlcs(t *testing.T) {
	t.Parallel()

	alice, bob := newTestPair(t)
	openTestChannel(t, alice, bob)

	errChan := make(chan error, 1)
	alice.channel.SendEvent(CmdClose{Err: errChan})
	require.NoError(t, <-errChan)

	addErr := make(chan error, 1)
	alice.channel.SendEvent(CmdAddHTLC{
		Amount:      20_000_000,
		PaymentHash: [32]byte{0x01},
		Expiry:      400_008,
		Err:         addErr,
	})
	require.Error(t, <-addErr)
}
