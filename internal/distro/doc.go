// Package distro implements the Distro replication protocol: an AP scheme in
// which every key is owned by exactly one healthy member, owners push changes
// to all peers asynchronously, and periodic checksum exchange repairs whatever
// the pushes missed.
//
// The Protocol type wires the pieces together:
//
//	write path:   Protocol.Submit -> Dispatcher (sharded by key) -> Syncer -> Transport.PushItems
//	failure:      Syncer -> RetryPolicy -> Syncer.RetrySync
//	repair:       AntiEntropy -> Transport.PushChecksums -> peer OnReceiveChecksums -> Transport.FetchItems
//	startup:      Protocol.Start -> Transport.FetchSnapshot -> StoreRegistry.LoadSnapshot
package distro
