package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/lightningnetwork/channeld/chainntnfs"
	"github.com/lightningnetwork/channeld/htlcswitch"
	"github.com/lightningnetwork/channeld/lnwire"
)

const (
	// defaultMailboxSize is the buffer of the actor's inbox.
	defaultMailboxSize = 50

	// broadcastDelay is how long we wait after the announcement exchange
	// before handing the gossip messages to the router.
	broadcastDelay = 3 * time.Second

	// terminalDrainTimeout is how long a terminal actor lingers to answer
	// stragglers before dying.
	terminalDrainTimeout = 10 * time.Second

	// claimConfirmationDepth is the depth at which a published claim is
	// considered done.
	claimConfirmationDepth = 3
)

// PeerLink is the transport-level connection to the peer, scoped to this
// channel.
type PeerLink interface {
	// SendMessage frames and sends a message to the peer.
	SendMessage(msg lnwire.Message) error
}

// Router consumes the gossip messages produced once a channel is announced.
type Router interface {
	// SubmitAnnouncements hands validated announcements to the gossip
	// layer.
	SubmitAnnouncements(msgs ...lnwire.Message)
}

// Config bundles the collaborators and node-level parameters of one channel
// actor.
type Config struct {
	// Peer is the initial link to the remote node.
	Peer PeerLink

	// Chain is the blockchain collaborator.
	Chain chainntnfs.ChainIO

	// Relayer is the HTLC switch.
	Relayer htlcswitch.Relayer

	// Router consumes channel announcements.
	Router Router

	// NotifyEvent, when non-nil, receives the channel event stream.
	NotifyEvent func(ChannelEvent)

	// Clock provides time, swapped out in tests.
	Clock clock.Clock

	// BroadcastTicker paces announcement delivery to the router.
	BroadcastTicker ticker.Ticker

	// ChainHash identifies the chain we're on.
	ChainHash chainhash.Hash

	// NodeKey signs node-level announcements.
	NodeKey *btcec.PrivateKey

	// MinimumDepth is the confirmation depth we demand on funding
	// transactions when we're the fundee.
	MinimumDepth uint32
}

// Channel is the per-channel state machine actor. A single goroutine owns
// all mutable state; every interaction goes through the inbox.
type Channel struct {
	cfg Config

	state State
	data  StateData

	// peer is the live link, nil while OFFLINE.
	peer PeerLink

	// currentHeight is the last block height tick we've seen.
	currentHeight uint32

	// announceChannel is set when the channel should be announced once
	// the funding flow completes.
	announceChannel bool

	// preimages caches the payment preimages we've learned, for on-chain
	// claims.
	preimages map[[32]byte][32]byte

	mailbox *queue.ConcurrentQueue

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a channel actor in WAIT_FOR_INIT_INTERNAL.
func New(cfg Config) *Channel {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.BroadcastTicker == nil {
		cfg.BroadcastTicker = ticker.New(broadcastDelay)
	}

	return &Channel{
		cfg:       cfg,
		state:     WaitForInitInternal,
		data:      &dataClosed{},
		peer:      cfg.Peer,
		preimages: make(map[[32]byte][32]byte),
		mailbox:   queue.NewConcurrentQueue(defaultMailboxSize),
		quit:      make(chan struct{}),
	}
}

// Start launches the actor goroutine.
func (c *Channel) Start() error {
	c.started.Do(func() {
		c.mailbox.Start()
		c.wg.Add(1)
		go c.eventLoop()
	})
	return nil
}

// Stop kills the actor. Pending inbox events are dropped.
func (c *Channel) Stop() error {
	c.stopped.Do(func() {
		close(c.quit)
		c.wg.Wait()
		c.mailbox.Stop()
		c.cfg.BroadcastTicker.Stop()
	})
	return nil
}

// SendEvent delivers an event to the actor's inbox. It never blocks the
// caller for long: the inbox is an unbounded concurrent queue.
func (c *Channel) SendEvent(ev Event) {
	select {
	case c.mailbox.ChanIn() <- ev:
	case <-c.quit:
	}
}

// State returns the current state tag via the inbox, so the answer is
// consistent with event ordering.
func (c *Channel) State() State {
	resp := make(chan State, 1)
	c.SendEvent(CmdGetState{Resp: resp})
	select {
	case s := <-resp:
		return s
	case <-c.quit:
		return Closed
	}
}

// eventLoop is the single goroutine owning all channel state.
func (c *Channel) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case ev := <-c.mailbox.ChanOut():
			c.handleEvent(ev)

		case <-c.cfg.BroadcastTicker.Ticks():
			c.handleEvent(tickBroadcast{})

		case <-c.quit:
			return
		}
	}
}

// handleEvent dispatches one event and applies the exception policy: any
// error escaping a handler is a local protocol fault. If the current data
// carries commitments we error-out the peer and publish our commitment,
// otherwise the channel simply dies.
func (c *Channel) handleEvent(ev Event) {
	err := c.processEvent(ev)
	if err == nil {
		return
	}

	log.Errorf("state=%v error processing %T: %v", c.state, ev, err)
	c.handleLocalError(err)
}

// processEvent handles the events every state understands, then defers to
// the current state's handler.
func (c *Channel) processEvent(ev Event) error {
	switch e := ev.(type) {
	// Introspection is answered from any state.
	case CmdGetState:
		e.Resp <- c.state
		return nil

	case CmdGetStateData:
		e.Resp <- c.data
		return nil

	case CmdGetInfo:
		e.Resp <- c.info()
		return nil

	case chainntnfs.BlockHeightEvent:
		return c.handleBlockHeight(e)

	case InputDisconnected:
		return c.handleDisconnect()

	case InputReconnected:
		return c.handleReconnect(e)

	case chainntnfs.LostEvent:
		if e.Tag == chainntnfs.BitcoinFundingLost {
			log.Errorf("funding transaction was reorged out")
			c.transitionTo(ErrFundingLost, &dataClosed{})
			return nil
		}
		return nil

	case drainComplete:
		// The terminal drain expired, time to die for real.
		go c.Stop()
		return nil

	// A funding spend is handled the same way from NORMAL onwards.
	case chainntnfs.SpendEvent:
		if e.Tag == chainntnfs.BitcoinFundingSpent {
			return c.handleFundingSpent(e.SpendingTx)
		}
		return nil
	}

	// Peer errors are adversarial from every state.
	if pm, ok := ev.(PeerMessage); ok {
		if errMsg, ok := pm.Msg.(*lnwire.Error); ok {
			return c.handleRemoteError(errMsg)
		}
	}

	switch c.state {
	case WaitForInitInternal:
		return c.handleInitInternal(ev)
	case WaitForOpenChannel:
		return c.handleWaitForOpenChannel(ev)
	case WaitForAcceptChannel:
		return c.handleWaitForAcceptChannel(ev)
	case WaitForFundingInternal:
		return c.handleWaitForFundingInternal(ev)
	case WaitForFundingCreated:
		return c.handleWaitForFundingCreated(ev)
	case WaitForFundingSigned:
		return c.handleWaitForFundingSigned(ev)
	case WaitForFundingConfirmed:
		return c.handleWaitForFundingConfirmed(ev)
	case WaitForFundingLocked:
		return c.handleWaitForFundingLocked(ev)
	case WaitForAnnSignatures:
		return c.handleWaitForAnnSignatures(ev)
	case Normal:
		return c.handleNormal(ev)
	case ShuttingDown:
		return c.handleShutdown(ev)
	case Negotiating:
		return c.handleNegotiating(ev)
	case Closing:
		return c.handleClosing(ev)
	case Offline:
		return c.handleOffline(ev)
	case Closed, ErrInformationLeak, ErrFundingLost:
		// Terminal states ignore everything but the commands already
		// handled above.
		c.rejectCommand(ev, fmt.Errorf("channel is %v", c.state))
		return nil
	default:
		return fmt.Errorf("unhandled state %v", c.state)
	}
}

// info summarizes the channel for CMD_GETINFO.
func (c *Channel) info() *Info {
	info := &Info{
		State: c.state,
	}
	if commits := c.data.commitments(); commits != nil {
		info.ChanID = commits.ChanID
		info.LocalBalance = commits.LocalCommit.Spec.ToLocal
		info.RemoteBalance = commits.LocalCommit.Spec.ToRemote
		info.Capacity = commits.CommitInput.Capacity
	}
	if d, ok := c.data.(*dataNormal); ok {
		info.ShortChanID = d.shortChanID
	}
	return info
}

// transitionTo moves the machine to the given state and data, emitting the
// transition on the event stream and arming the terminal drain when needed.
func (c *Channel) transitionTo(next State, data StateData) {
	prev := c.state
	c.state = next
	c.data = data

	log.Debugf("transition %v -> %v, data: %v", prev, next,
		newLogClosure(func() string {
			return spew.Sdump(data)
		}))

	c.notify(ChannelChangedState{Previous: prev, Current: next})

	if next.isTerminal() && !prev.isTerminal() {
		c.armDrainTimer()
	}
}

// armDrainTimer schedules the drainComplete self-message.
func (c *Channel) armDrainTimer() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.cfg.Clock.TickAfter(terminalDrainTimeout):
			select {
			case c.mailbox.ChanIn() <- drainComplete{}:
			case <-c.quit:
			}
		case <-c.quit:
		}
	}()
}

// notify publishes an event to the owner's event stream.
func (c *Channel) notify(ev ChannelEvent) {
	if c.cfg.NotifyEvent != nil {
		c.cfg.NotifyEvent(ev)
	}
}

// sendToPeer ships a message to the peer if we have a live link. Messages
// that matter for resynchronization are also tracked in the commitments'
// unacked buffer by the commitments engine itself.
func (c *Channel) sendToPeer(msg lnwire.Message) {
	if c.peer == nil {
		log.Debugf("offline, not sending %v", msg.MsgType())
		return
	}
	if err := c.peer.SendMessage(msg); err != nil {
		log.Warnf("unable to send %v: %v", msg.MsgType(), err)
	}
}

// selfSend re-enqueues an event for ourselves, preserving arrival order.
func (c *Channel) selfSend(ev Event) {
	select {
	case c.mailbox.ChanIn() <- ev:
	case <-c.quit:
	}
}

// rejectCommand reports a command rejection to its sender, if the event was
// a command carrying a reply channel. Rejections cause no state change.
func (c *Channel) rejectCommand(ev Event, err error) {
	switch e := ev.(type) {
	case CmdAddHTLC:
		replyErr(e.Err, err)
	case CmdFulfillHTLC:
		replyErr(e.Err, err)
	case CmdFailHTLC:
		replyErr(e.Err, err)
	case CmdClose:
		replyErr(e.Err, err)
	}
}

// replyErr delivers an error on a command's optional reply channel.
func replyErr(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// handleBlockHeight records the tick and force-closes if any HTLC has timed
// out while we're operating.
func (c *Channel) handleBlockHeight(e chainntnfs.BlockHeightEvent) error {
	c.currentHeight = e.Height

	commits := c.data.commitments()
	if commits == nil {
		return nil
	}

	switch c.state {
	case Normal, ShuttingDown, Offline:
		if commits.HasTimedOutHtlcs(e.Height) {
			return fmt.Errorf("htlc timed out at height %d",
				e.Height)
		}
	}
	return nil
}

// handleRemoteError reacts to the peer declaring the channel failed. With
// commitments on foot this is a unilateral close; before funding it's a
// plain death.
func (c *Channel) handleRemoteError(msg *lnwire.Error) error {
	log.Errorf("peer sent error: %v", msg.Error())

	if commits := c.data.commitments(); commits != nil {
		c.spendLocalCurrent(commits)
		return nil
	}

	c.transitionTo(Closed, &dataClosed{})
	return nil
}

// handleLocalError implements the exception policy for faults attributable
// to our own view being violated: notify the peer, then close unilaterally
// when possible.
func (c *Channel) handleLocalError(cause error) {
	commits := c.data.commitments()

	var chanID lnwire.ChannelID
	if commits != nil {
		chanID = commits.ChanID
	}
	c.sendToPeer(&lnwire.Error{
		ChanID: chanID,
		Data:   lnwire.ErrorData(cause.Error()),
	})

	if commits == nil {
		c.transitionTo(Closed, &dataClosed{})
		return
	}

	c.spendLocalCurrent(commits)
}

// handleDisconnect drops the peer link and parks the machine in OFFLINE.
// Terminal states and CLOSING don't care about the peer anymore.
func (c *Channel) handleDisconnect() error {
	c.peer = nil

	switch c.state {
	case WaitForInitInternal, Closing, Closed, ErrInformationLeak,
		ErrFundingLost, Offline:

		return nil
	}

	c.transitionTo(Offline, &dataOffline{
		resumeState: c.state,
		inner:       c.data,
	})
	return nil
}
