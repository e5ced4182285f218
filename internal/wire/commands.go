// Package wire defines the Sustenet framed binary protocol: the shared
// command-ID space and the big-endian, length-prefixed encoding used by
// every connection in the fleet.
package wire

// Command identifies the purpose of a single inbound byte read by a
// connection task. The ID space is partitioned by convention, mirroring
// the ranges carried over from the original implementation's packet enums
// (see original_source/rust/shared/src/packets.rs).
type Command byte

const (
	// 0-127: reserved for game-domain traffic. Declared but unimplemented;
	// semantics are out of scope for this repository.
	GameDomainStart Command = 0
	GameDomainEnd   Command = 127

	// 200-209: messaging primitives. Declared but unimplemented.
	MessagingStart Command = 200
	MessagingEnd   Command = 209
)

// Discovery commands (210-239): Master<->Client/Cluster cluster-list
// exchange. IDs are our own assignment; the original only names the
// variants, not their numeric values.
const (
	RequestClusters Command = 210 // Client/Cluster -> Master: ask for the cluster list.
	SendClusters    Command = 211 // Master -> Client/Cluster: the cluster list, one-shot.
	BecomeCluster   Command = 212 // Unknown -> Master: request to register as a Cluster.
	VerifyCluster   Command = 213 // Master -> Unknown: AES-encrypted passphrase challenge.
	AnswerCluster   Command = 214 // Unknown -> Master: decrypted passphrase + cluster info.
	CreateCluster   Command = 215 // Master -> Unknown: registration accepted.
	ClusterListPush Command = 216 // Master -> Cluster: unsolicited cluster-list update.
)

// Connection lifecycle (240-244). Connect/Disconnect/Authenticate are
// named explicitly by spec.md §4.1; the two remaining IDs in the range are
// left reserved rather than invented, since nothing in SPEC_FULL.md needs
// them (the auth microservice itself is out of scope per spec.md §9).
const (
	Connect            Command = 240
	Disconnect         Command = 241
	Authenticate       Command = 242
	lifecycleReserved1 Command = 243
	lifecycleReserved2 Command = 244
)

// Cluster registration handshake continuation (245-246).
const (
	ClusterInit         Command = 245
	ClusterAnswerSecret Command = 246
)

// Diagnostics (250-253).
const (
	CheckServerType         Command = 250
	CheckServerVersion      Command = 251
	CheckServerUptime       Command = 252
	CheckServerPlayerCount  Command = 253
)

// String returns a human-readable name for logging; unknown commands
// render as their numeric value.
func (c Command) String() string {
	switch c {
	case RequestClusters:
		return "RequestClusters"
	case SendClusters:
		return "SendClusters"
	case BecomeCluster:
		return "BecomeCluster"
	case VerifyCluster:
		return "VerifyCluster"
	case AnswerCluster:
		return "AnswerCluster"
	case CreateCluster:
		return "CreateCluster"
	case ClusterListPush:
		return "ClusterListPush"
	case Connect:
		return "Connect"
	case Disconnect:
		return "Disconnect"
	case Authenticate:
		return "Authenticate"
	case ClusterInit:
		return "ClusterInit"
	case ClusterAnswerSecret:
		return "ClusterAnswerSecret"
	case CheckServerType:
		return "CheckServerType"
	case CheckServerVersion:
		return "CheckServerVersion"
	case CheckServerUptime:
		return "CheckServerUptime"
	case CheckServerPlayerCount:
		return "CheckServerPlayerCount"
	default:
		if c <= GameDomainEnd {
			return "GameDomain"
		}
		if c >= MessagingStart && c <= MessagingEnd {
			return "Messaging"
		}
		return "Unknown"
	}
}
