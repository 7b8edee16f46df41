// Package names generates human-readable node names for hoster nodes that were
// started without --name.
//
// Names use the "adjective-noun" form (for example "amber-ledger" or
// "steady-relay") and are advertised over gossip membership, telemetry and the
// system_name RPC. They satisfy validate.NodeNameFormat by construction.
//
// NAME GENERATION STRATEGY:
// Uses crypto/rand for unpredictable selection.
package names

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Adjectives drawn from weather, material and temperament themes
var adjectives = []string{
	"amber", "ancient", "arctic", "autumn", "bold", "brisk", "calm",
	"candid", "cedar", "clever", "cobalt", "copper", "crimson", "crisp",
	"daring", "dawn", "distant", "dusky", "eager", "early", "electric",
	"emerald", "even", "faithful", "fearless", "fern", "fleet", "frosty",
	"gentle", "gilded", "glacial", "golden", "granite", "hardy", "hidden",
	"hollow", "honest", "humble", "icy", "indigo", "iron", "ivory", "jade",
	"keen", "kind", "lucid", "lunar", "marble", "mellow", "misty", "modest",
	"noble", "northern", "oaken", "onyx", "patient", "pearl", "plucky",
	"polar", "proud", "quiet", "quick", "rapid", "restless", "rustic",
	"sable", "scarlet", "serene", "silent", "silver", "sober", "solar",
	"spare", "stable", "steady", "stellar", "stoic", "sturdy", "swift",
	"tawny", "tidal", "timber", "tranquil", "true", "twilight", "upright",
	"valiant", "velvet", "vivid", "wandering", "wary", "wild", "winter",
	"wise", "zealous",
}

// Nouns drawn from ledger, cartography and relay themes
var nouns = []string{
	"abacus", "anchor", "archive", "atlas", "badge", "beacon", "block",
	"bridge", "buoy", "cairn", "canal", "charter", "chronicle", "cipher",
	"column", "compass", "conduit", "courier", "crown", "depot", "dispatch",
	"dock", "ember", "epoch", "estuary", "ferry", "forge", "fountain",
	"garrison", "gate", "glyph", "granary", "harbor", "herald", "hinge",
	"index", "inlet", "journal", "keel", "keystone", "kiln", "lantern",
	"ledger", "lighthouse", "lock", "loom", "manifest", "meridian", "mint",
	"monolith", "notary", "obelisk", "orbit", "outpost", "parcel", "pillar",
	"pylon", "quarry", "quill", "rampart", "record", "reef", "relay",
	"rivet", "scribe", "seal", "signal", "spire", "stamp", "station",
	"summit", "tally", "tessera", "tide", "token", "tower", "trellis",
	"vault", "vessel", "wagon", "ward", "watch", "wharf", "wick", "zenith",
}

// Generate creates a random name in "adjective-noun" format.
func Generate() string {
	adjective := adjectives[randomIndex(len(adjectives))]
	noun := nouns[randomIndex(len(nouns))]
	return fmt.Sprintf("%s-%s", adjective, noun)
}

// randomIndex returns a uniform index below max using crypto/rand, or 0 if the
// random source fails.
func randomIndex(max int) int {
	if max <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}

	return int(n.Int64())
}
