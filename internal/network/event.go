package network

import (
	"strconv"
	"time"

	"github.com/hashicorp/serf/serf"

	"github.com/tristanlee/substrate/internal/logging"
)

// processEvents drains the serf event queue and keeps the peer table current.
func (n *Network) processEvents() {
	for {
		select {
		case event := <-n.eventQueue:
			n.handleEvent(event)
		case <-n.ctx.Done():
			logging.Debug("Network event processor shutting down")
			return
		}
	}
}

func (n *Network) handleEvent(event serf.Event) {
	switch e := event.(type) {
	case serf.MemberEvent:
		n.handleMemberEvent(e)
	default:
		logging.Debug("Received unhandled gossip event type: %T", event)
	}
}

// handleMemberEvent applies join/leave/fail/update/reap to the peer table
func (n *Network) handleMemberEvent(event serf.MemberEvent) {
	for _, member := range event.Members {
		switch event.EventType() {
		case serf.EventMemberJoin:
			logging.Info("Peer joined: %s (%s:%d)", member.Name, member.Addr, member.Port)
			n.addMember(member)

		case serf.EventMemberLeave:
			logging.Info("Peer left: %s (%s:%d)", member.Name, member.Addr, member.Port)
			n.removeMember(member)

		case serf.EventMemberFailed:
			logging.Warn("Peer failed: %s (%s:%d)", member.Name, member.Addr, member.Port)
			n.updateMemberStatus(member, serf.StatusFailed)

		case serf.EventMemberUpdate:
			logging.Debug("Peer updated: %s best #%s", member.Name, member.Tags[tagBest])
			n.addMember(member)

		case serf.EventMemberReap:
			logging.Debug("Peer reaped: %s", member.Name)
			n.removeMember(member)
		}
	}
}

func (n *Network) addMember(member serf.Member) {
	peer := peerFromMember(member)

	n.memberLock.Lock()
	n.members[peer.Name] = peer
	n.memberLock.Unlock()
}

func (n *Network) updateMemberStatus(member serf.Member, status serf.MemberStatus) {
	n.memberLock.Lock()
	if peer, ok := n.members[member.Name]; ok {
		peer.Status = status
	}
	n.memberLock.Unlock()
}

func (n *Network) removeMember(member serf.Member) {
	n.memberLock.Lock()
	delete(n.members, member.Name)
	n.memberLock.Unlock()
}

// peerFromMember reads a peer's chain status from its gossip tags. Missing
// or malformed numeric tags read as zero.
func peerFromMember(member serf.Member) *Peer {
	best, _ := strconv.ParseUint(member.Tags[tagBest], 10, 64)
	syncPort, _ := strconv.Atoi(member.Tags[tagSyncPort])

	return &Peer{
		Name:       member.Name,
		PeerID:     member.Tags[tagPeerID],
		Addr:       member.Addr,
		Port:       member.Port,
		SyncPort:   syncPort,
		Genesis:    member.Tags[tagGenesis],
		BestNumber: best,
		Role:       Role(member.Tags[tagRole]),
		Status:     member.Status,
		LastSeen:   time.Now(),
	}
}
