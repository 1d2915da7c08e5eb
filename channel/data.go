package channel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/contractcourt"
	"github.com/lightningnetwork/channeld/lnwire"
)

// StateData is the data carried by the current state. Each state has its own
// variant, so that the invariant "state X implies data of shape X" is
// enforced by construction.
type StateData interface {
	// commitments returns the channel's commitments if this state carries
	// any, else nil. States with commitments fail towards unilateral
	// close; states without fail towards CLOSED.
	commitments() *commitment.Commitments
}

// dataWaitForOpenChannel is carried by WAIT_FOR_OPEN_CHANNEL.
type dataWaitForOpenChannel struct {
	init InitFundee
}

func (d *dataWaitForOpenChannel) commitments() *commitment.Commitments {
	return nil
}

// dataWaitForAcceptChannel is carried by WAIT_FOR_ACCEPT_CHANNEL.
type dataWaitForAcceptChannel struct {
	init     InitFunder
	lastSent *lnwire.OpenChannel
}

func (d *dataWaitForAcceptChannel) commitments() *commitment.Commitments {
	return nil
}

// dataWaitForFundingInternal is carried by WAIT_FOR_FUNDING_INTERNAL, while
// the blockchain collaborator constructs the funding transaction.
type dataWaitForFundingInternal struct {
	init         InitFunder
	remoteParams *commitment.RemoteParams

	// remoteFirstPerCommitPoint came from accept_channel.
	remoteFirstPerCommitPoint *btcec.PublicKey

	lastSent *lnwire.OpenChannel
}

func (d *dataWaitForFundingInternal) commitments() *commitment.Commitments {
	return nil
}

// dataWaitForFundingCreated is carried by WAIT_FOR_FUNDING_CREATED on the
// fundee side.
type dataWaitForFundingCreated struct {
	init         InitFundee
	remoteParams *commitment.RemoteParams

	// fundingAmount and pushAmount echo the open_channel.
	fundingAmount btcutil.Amount
	pushAmount    lnwire.MilliSatoshi
	feeRatePerKw  commitment.SatPerKWeight

	// remoteFirstPerCommitPoint came from open_channel.
	remoteFirstPerCommitPoint *btcec.PublicKey

	lastSent *lnwire.AcceptChannel
}

func (d *dataWaitForFundingCreated) commitments() *commitment.Commitments {
	return nil
}

// dataWaitForFundingSigned is carried by WAIT_FOR_FUNDING_SIGNED on the
// funder side: the commitments are fully built but our local commitment
// lacks the remote signature.
type dataWaitForFundingSigned struct {
	commits   *commitment.Commitments
	fundingTx *wire.MsgTx
	lastSent  *lnwire.FundingCreated
}

func (d *dataWaitForFundingSigned) commitments() *commitment.Commitments {
	// The local commitment isn't spendable yet, so a failure here must
	// not attempt a unilateral close.
	return nil
}

// dataWaitForFundingConfirmed is carried by WAIT_FOR_FUNDING_CONFIRMED.
type dataWaitForFundingConfirmed struct {
	commits *commitment.Commitments

	// deferred holds an early funding_locked from the peer, replayed
	// after our own depth-ok event.
	deferred *lnwire.FundingLocked

	// fundingTx is set on the funder side, which is responsible for
	// broadcasting.
	fundingTx *wire.MsgTx

	lastSent lnwire.Message
}

func (d *dataWaitForFundingConfirmed) commitments() *commitment.Commitments {
	return d.commits
}

// dataWaitForFundingLocked is carried by WAIT_FOR_FUNDING_LOCKED.
type dataWaitForFundingLocked struct {
	commits     *commitment.Commitments
	shortChanID lnwire.ShortChannelID
	lastSent    *lnwire.FundingLocked
}

func (d *dataWaitForFundingLocked) commitments() *commitment.Commitments {
	return d.commits
}

// dataWaitForAnnSignatures is carried by WAIT_FOR_ANN_SIGNATURES.
type dataWaitForAnnSignatures struct {
	commits     *commitment.Commitments
	shortChanID lnwire.ShortChannelID
	lastSent    *lnwire.AnnounceSignatures
}

func (d *dataWaitForAnnSignatures) commitments() *commitment.Commitments {
	return d.commits
}

// dataNormal is carried by NORMAL.
type dataNormal struct {
	commits     *commitment.Commitments
	shortChanID lnwire.ShortChannelID

	// announcements holds gossip messages pending the broadcast tick.
	announcements []lnwire.Message

	// localShutdown is our shutdown message once a close has been
	// requested but couldn't complete yet (pending changes).
	localShutdown *lnwire.Shutdown
}

func (d *dataNormal) commitments() *commitment.Commitments {
	return d.commits
}

// dataShutdown is carried by SHUTDOWN while pending HTLCs drain.
type dataShutdown struct {
	commits        *commitment.Commitments
	localShutdown  *lnwire.Shutdown
	remoteShutdown *lnwire.Shutdown
}

func (d *dataShutdown) commitments() *commitment.Commitments {
	return d.commits
}

// dataNegotiating is carried by NEGOTIATING during fee negotiation.
type dataNegotiating struct {
	commits        *commitment.Commitments
	localShutdown  *lnwire.Shutdown
	remoteShutdown *lnwire.Shutdown

	// lastProposedFee is our most recent closing_signed fee, zero before
	// our first proposal.
	lastProposedFee btcutil.Amount
}

func (d *dataNegotiating) commitments() *commitment.Commitments {
	return d.commits
}

// dataClosing is carried by CLOSING. Several claim paths may be active at
// once for a brief window.
type dataClosing struct {
	commits *commitment.Commitments

	mutualClosePublished      *wire.MsgTx
	localCommitPublished      *contractcourt.LocalCommitPublished
	remoteCommitPublished     *contractcourt.RemoteCommitPublished
	nextRemoteCommitPublished *contractcourt.RemoteCommitPublished
	revokedCommitPublished    []*contractcourt.RevokedCommitPublished
}

func (d *dataClosing) commitments() *commitment.Commitments {
	return d.commits
}

// dataClosed is carried by the terminal states.
type dataClosed struct{}

func (d *dataClosed) commitments() *commitment.Commitments {
	return nil
}

// dataOffline wraps the state data we'll return to on reconnection.
type dataOffline struct {
	// resumeState is the state we were in when the peer vanished.
	resumeState State

	// inner is that state's data, mutated in place by the few commands
	// OFFLINE accepts.
	inner StateData

	// pendingChain defers blockchain notifications that arrived while
	// offline; they're replayed after reconnection.
	pendingChain []Event
}

func (d *dataOffline) commitments() *commitment.Commitments {
	return d.inner.commitments()
}
