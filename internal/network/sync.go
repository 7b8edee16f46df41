package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/serf/serf"
	"github.com/quic-go/quic-go"

	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/logging"
)

const streamTimeout = 30 * time.Second

// acceptLoop serves block requests from peers.
func (n *Network) acceptLoop() {
	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.fail(fmt.Errorf("sync listener: %w", err))
			return
		}

		n.goTask("sync-conn "+conn.RemoteAddr().String(), func() { n.handleConn(conn) })
	}
}

// handleConn serves every stream a peer opens on one connection.
func (n *Network) handleConn(conn *quic.Conn) {
	remote, err := peerIDFromTLS(conn.ConnectionState().TLS)
	if err != nil {
		logging.Warn("Rejecting sync connection from %s: %v", conn.RemoteAddr(), err)
		conn.CloseWithError(1, "bad identity")
		return
	}

	for {
		stream, err := conn.AcceptStream(n.ctx)
		if err != nil {
			return
		}
		n.serveStream(remote, stream)
	}
}

func (n *Network) serveStream(remote string, stream *quic.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(streamTimeout))

	req, err := readRequest(stream)
	if err != nil {
		logging.Debug("Bad sync request from %s: %v", logging.FormatPeerID(remote), err)
		stream.CancelRead(1)
		return
	}
	if req.Genesis != n.genesis {
		logging.Debug("Peer %s asked for blocks on another chain", logging.FormatPeerID(remote))
		writeBlocks(stream, nil)
		return
	}

	count := uint64(req.Count)
	if count > maxBlocksPerRequest {
		count = maxBlocksPerRequest
	}

	blocks := make([]*client.Block, 0, count)
	for num := req.From; num < req.From+count; num++ {
		b, err := n.chain.BlockByNumber(num)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}

	if err := writeBlocks(stream, blocks); err != nil {
		logging.Debug("Failed to send blocks to %s: %v", logging.FormatPeerID(remote), err)
	}
}

// syncLoop periodically advertises our best block and pulls from the best peer.
func (n *Network) syncLoop() {
	ticker := time.NewTicker(n.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.advertiseBest()
			if _, err := n.syncOnce(n.ctx); err != nil && n.ctx.Err() == nil {
				logging.Warn("Block sync failed: %v", err)
			}
		case <-n.ctx.Done():
			return
		}
	}
}

// syncTarget picks the alive peer on our genesis with the highest best block
// above ours.
func (n *Network) syncTarget() (Peer, bool) {
	ours := n.chain.Info().BestNumber

	var target Peer
	found := false
	for _, p := range n.Peers() {
		if p.Status != serf.StatusAlive || p.Genesis != n.genesis || p.SyncPort == 0 {
			continue
		}
		if p.BestNumber > ours && (!found || p.BestNumber > target.BestNumber) {
			target = p
			found = true
		}
	}
	return target, found
}

// syncOnce fetches and imports one batch from the best peer. Returns the
// number of blocks imported.
func (n *Network) syncOnce(ctx context.Context) (int, error) {
	target, ok := n.syncTarget()
	if !ok {
		return 0, nil
	}

	from := n.chain.Info().BestNumber + 1
	count := target.BestNumber - from + 1
	if count > uint64(n.cfg.SyncBatch) {
		count = uint64(n.cfg.SyncBatch)
	}

	blocks, err := n.fetchBlocks(ctx, target.SyncAddr(), from, uint32(count))
	if err != nil {
		return 0, fmt.Errorf("fetch from %s: %w", target.Name, err)
	}

	imported := 0
	for _, b := range blocks {
		if err := n.chain.ImportBlock(b); err != nil {
			if errors.Is(err, client.ErrKnownBlock) {
				continue
			}
			return imported, fmt.Errorf("import #%d from %s: %w", b.Number, target.Name, err)
		}
		imported++
	}

	if imported > 0 {
		logging.Info("Imported %d blocks from %s, best #%d", imported, target.Name, n.chain.Info().BestNumber)
	}
	return imported, nil
}

// fetchBlocks requests count blocks starting at from from the peer at addr.
func (n *Network) fetchBlocks(ctx context.Context, addr string, from uint64, count uint32) ([]*client.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseWithError(0, "done")

	if _, err := peerIDFromTLS(conn.ConnectionState().TLS); err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	if err := writeRequest(stream, blocksRequest{Genesis: n.genesis, From: from, Count: count}); err != nil {
		return nil, err
	}
	// Half-close so the peer sees the end of our request
	stream.Close()

	return readBlocks(stream, int(count))
}
