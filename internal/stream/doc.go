// Package stream delivers message insertions to live observers.
//
// The Bridge holds exactly one upstream subscription to the store's
// insert feed and republishes each change through the Registry to every
// connected observer. Delivery is at-most-once per observer: a slow
// observer has envelopes dropped rather than stalling the upstream
// consumer or its peers, and there is no replay for observers that
// connect late. Per-feed ordering is preserved because the bridge
// forwards events strictly in the order it received them.
package stream
