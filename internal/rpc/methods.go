package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/network"
)

type methodFunc func(params []json.RawMessage) (any, error)

type method struct {
	fn     methodFunc
	unsafe bool
}

// Health is the system_health result.
type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// PeerInfo is one entry of the system_peers result.
type PeerInfo struct {
	PeerID     string `json:"peerId"`
	Name       string `json:"name"`
	Roles      string `json:"roles"`
	BestNumber uint64 `json:"bestNumber"`
}

// Header is the chain_getHeader result.
type Header struct {
	Number     string      `json:"number"`
	Hash       client.Hash `json:"hash"`
	ParentHash client.Hash `json:"parentHash"`
	Timestamp  uint64      `json:"timestamp"`
	Author     string      `json:"author"`
}

func headerOf(b *client.Block) *Header {
	return &Header{
		Number:     "0x" + strconv.FormatUint(b.Number, 16),
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		Author:     b.Author,
	}
}

// buildMethods assembles the method table allowed by the policy.
func (s *Server) buildMethods() map[string]method {
	all := map[string]method{
		"system_name":            {fn: s.systemName},
		"system_version":         {fn: s.systemVersion},
		"system_chain":           {fn: s.systemChain},
		"system_health":          {fn: s.systemHealth},
		"system_peers":           {fn: s.systemPeers},
		"chain_getBlockHash":     {fn: s.chainGetBlockHash},
		"chain_getHeader":        {fn: s.chainGetHeader},
		"chain_getFinalizedHead": {fn: s.chainGetFinalizedHead},
		"rpc_methods":            {fn: s.rpcMethods},
		"author_hasKey":          {fn: s.authorHasKey, unsafe: true},
	}

	unsafe := s.cfg.allowUnsafe()
	methods := make(map[string]method, len(all))
	for name, m := range all {
		if m.unsafe && !unsafe {
			continue
		}
		methods[name] = m
	}
	return methods
}

func (s *Server) systemName(_ []json.RawMessage) (any, error) {
	return s.deps.NodeName, nil
}

func (s *Server) systemVersion(_ []json.RawMessage) (any, error) {
	return s.deps.Version, nil
}

func (s *Server) systemChain(_ []json.RawMessage) (any, error) {
	return s.deps.ChainName, nil
}

func (s *Server) health() Health {
	h := Health{ShouldHavePeers: s.deps.ShouldHavePeers}
	if s.deps.Network != nil {
		h.Peers = len(s.deps.Network.Peers())
		h.IsSyncing = s.deps.Network.IsSyncing()
	}
	return h
}

func (s *Server) systemHealth(_ []json.RawMessage) (any, error) {
	return s.health(), nil
}

func (s *Server) systemPeers(_ []json.RawMessage) (any, error) {
	peers := []PeerInfo{}
	if s.deps.Network == nil {
		return peers, nil
	}
	for _, p := range s.deps.Network.Peers() {
		peers = append(peers, PeerInfo{
			PeerID:     p.PeerID,
			Name:       p.Name,
			Roles:      string(p.Role),
			BestNumber: p.BestNumber,
		})
	}
	return peers, nil
}

// chainGetBlockHash returns the canonical hash at a number, the best hash
// without a number, or null when the number is past the tip.
func (s *Server) chainGetBlockHash(params []json.RawMessage) (any, error) {
	if len(params) == 0 || isNull(params[0]) {
		return s.deps.Chain.Info().BestHash, nil
	}
	number, err := parseBlockNumber(params[0])
	if err != nil {
		return nil, err
	}
	b, err := s.deps.Chain.BlockByNumber(number)
	if errors.Is(err, client.ErrBlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.Hash, nil
}

// chainGetHeader returns the header for a hash, or the best header.
func (s *Server) chainGetHeader(params []json.RawMessage) (any, error) {
	hash := s.deps.Chain.Info().BestHash
	if len(params) > 0 && !isNull(params[0]) {
		var str string
		if err := json.Unmarshal(params[0], &str); err != nil {
			return nil, invalidParams("hash must be a string")
		}
		h, err := client.ParseHash(str)
		if err != nil {
			return nil, invalidParams("invalid hash: %v", err)
		}
		hash = h
	}

	b, err := s.deps.Chain.BlockByHash(hash)
	if errors.Is(err, client.ErrBlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return headerOf(b), nil
}

// chainGetFinalizedHead reports the best block: blocks are final on import.
func (s *Server) chainGetFinalizedHead(_ []json.RawMessage) (any, error) {
	return s.deps.Chain.Info().BestHash, nil
}

func (s *Server) rpcMethods(_ []json.RawMessage) (any, error) {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]any{"methods": names}, nil
}

// authorHasKey checks the keystore for a hex public key under a key type tag.
func (s *Server) authorHasKey(params []json.RawMessage) (any, error) {
	if len(params) != 2 {
		return nil, invalidParams("expected [publicKey, keyType]")
	}
	var pubHex, tag string
	if err := json.Unmarshal(params[0], &pubHex); err != nil {
		return nil, invalidParams("public key must be a string")
	}
	if err := json.Unmarshal(params[1], &tag); err != nil {
		return nil, invalidParams("key type must be a string")
	}
	pub, err := hex.DecodeString(strings.TrimPrefix(pubHex, "0x"))
	if err != nil {
		return nil, invalidParams("invalid public key: %v", err)
	}
	if s.deps.Keys == nil {
		return false, nil
	}
	return s.deps.Keys.Has(tag, pub), nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// parseBlockNumber accepts a JSON number or a 0x-prefixed hex string.
func parseBlockNumber(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, invalidParams("block number must be a number or hex string")
	}
	if !strings.HasPrefix(str, "0x") {
		return 0, invalidParams("block number string must be 0x-prefixed hex")
	}
	n, err := strconv.ParseUint(str[2:], 16, 64)
	if err != nil {
		return 0, invalidParams("invalid block number %q", str)
	}
	return n, nil
}

var _ PeerSet = (*network.Network)(nil)
