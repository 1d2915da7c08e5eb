package funding

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lightningnetwork/channeld/lnwire"
)

// newChanAnnouncement assembles the unsigned channel announcement skeleton
// for the channel with the given endpoints. Node and bitcoin keys are placed
// in ascending numerical order as the gossip protocol demands.
func newChanAnnouncement(localNode, remoteNode, localFunding,
	remoteFunding *btcec.PublicKey, shortChanID lnwire.ShortChannelID,
	chainHash chainhash.Hash) *lnwire.ChannelAnnouncement {

	chanAnn := &lnwire.ChannelAnnouncement{
		ShortChannelID: shortChanID,
		ChainHash:      chainHash,
	}

	localBytes := localNode.SerializeCompressed()
	remoteBytes := remoteNode.SerializeCompressed()
	if bytes.Compare(localBytes, remoteBytes) == -1 {
		chanAnn.NodeID1 = localNode
		chanAnn.NodeID2 = remoteNode
		chanAnn.BitcoinKey1 = localFunding
		chanAnn.BitcoinKey2 = remoteFunding
	} else {
		chanAnn.NodeID1 = remoteNode
		chanAnn.NodeID2 = localNode
		chanAnn.BitcoinKey1 = remoteFunding
		chanAnn.BitcoinKey2 = localFunding
	}

	return chanAnn
}

// signDigest signs the double-sha256 of the message with the given key.
func signDigest(key *btcec.PrivateKey, msg []byte) (lnwire.Sig, error) {
	first := sha256.Sum256(msg)
	digest := sha256.Sum256(first[:])

	sig := ecdsa.Sign(key, digest[:])
	return lnwire.NewSigFromSignature(sig)
}

// SignAnnouncementSignatures produces the announcement_signatures message
// proving control of both the node key and the funding key.
func SignAnnouncementSignatures(nodeKey, fundingKey *btcec.PrivateKey,
	localNode, remoteNode, remoteFunding *btcec.PublicKey,
	chanID lnwire.ChannelID, shortChanID lnwire.ShortChannelID,
	chainHash chainhash.Hash) (*lnwire.AnnounceSignatures, error) {

	chanAnn := newChanAnnouncement(
		localNode, remoteNode, fundingKey.PubKey(), remoteFunding,
		shortChanID, chainHash,
	)

	data, err := chanAnn.DataToSign()
	if err != nil {
		return nil, err
	}

	nodeSig, err := signDigest(nodeKey, data)
	if err != nil {
		return nil, err
	}
	bitcoinSig, err := signDigest(fundingKey, data)
	if err != nil {
		return nil, err
	}

	return &lnwire.AnnounceSignatures{
		ChannelID:        chanID,
		ShortChannelID:   shortChanID,
		NodeSignature:    nodeSig,
		BitcoinSignature: bitcoinSig,
	}, nil
}

// AssembleChannelAnnouncement combines our announcement signatures with the
// remote's into the broadcastable channel_announcement, along with a fresh
// channel_update and node_announcement for the router.
func AssembleChannelAnnouncement(nodeKey, fundingKey *btcec.PrivateKey,
	localNode, remoteNode, remoteFunding *btcec.PublicKey,
	local, remote *lnwire.AnnounceSignatures, chainHash chainhash.Hash,
	htlcMinimum lnwire.MilliSatoshi) ([]lnwire.Message, error) {

	chanAnn := newChanAnnouncement(
		localNode, remoteNode, fundingKey.PubKey(), remoteFunding,
		local.ShortChannelID, chainHash,
	)

	// Signature slots follow the same ordering as the keys.
	if chanAnn.NodeID1.IsEqual(localNode) {
		chanAnn.NodeSig1 = local.NodeSignature
		chanAnn.NodeSig2 = remote.NodeSignature
		chanAnn.BitcoinSig1 = local.BitcoinSignature
		chanAnn.BitcoinSig2 = remote.BitcoinSignature
	} else {
		chanAnn.NodeSig1 = remote.NodeSignature
		chanAnn.NodeSig2 = local.NodeSignature
		chanAnn.BitcoinSig1 = remote.BitcoinSignature
		chanAnn.BitcoinSig2 = local.BitcoinSignature
	}

	chanUpdate := &lnwire.ChannelUpdate{
		ChainHash:       chainHash,
		ShortChannelID:  local.ShortChannelID,
		TimeLockDelta:   144,
		HtlcMinimumMsat: htlcMinimum,
	}
	if !chanAnn.NodeID1.IsEqual(localNode) {
		chanUpdate.ChannelFlags |= lnwire.ChanUpdateDirection
	}
	updData, err := chanUpdate.DataToSign()
	if err != nil {
		return nil, err
	}
	chanUpdate.Signature, err = signDigest(nodeKey, updData)
	if err != nil {
		return nil, err
	}

	nodeAnn := &lnwire.NodeAnnouncement{
		NodeID: localNode,
	}
	nodeData, err := nodeAnn.DataToSign()
	if err != nil {
		return nil, err
	}
	nodeAnn.Signature, err = signDigest(nodeKey, nodeData)
	if err != nil {
		return nil, err
	}

	return []lnwire.Message{chanAnn, nodeAnn, chanUpdate}, nil
}
