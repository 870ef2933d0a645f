// Package collab connects an editor to a CodeSynq collaboration relay.
//
// # Connecting
//
// [Connect] dials the relay through a reconnecting WebSocket transport
// ([github.com/codesynq/collab.go/pkg/transport/rews]) and returns a
// [Client] wrapping a [session.Session]. When the relay can not be reached
// within Config.ConnectTimeout the Client is returned in solo mode: the
// editor stays fully usable and collaboration operations report
// [constants.ErrSolo].
//
// Sessions are stateful on the relay side, so after every reconnection the
// Client re-announces the local member and the relay's snapshot replaces
// the local view.
//
// # Share links
//
// A room is shared as a URL carrying its id in the room query parameter.
// [ShareLink] builds one and [ParseShareLink] accepts either a link or a
// bare room id.
//
// # Sessions
//
// Everything about membership, edit authority and change propagation lives
// in [github.com/codesynq/collab.go/pkg/session]. The relay is in
// [github.com/codesynq/collab.go/pkg/relay].
package collab
