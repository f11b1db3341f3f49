// Package store provides the addressable stores behind the caches.
//
// ByteStore keeps sparse byte ranges of a remote object in LRU-managed
// fixed-size blocks. BlockStore keeps records grouped by time block and
// partition. Both derive their resident ranges from what they hold on
// every call instead of tracking them separately.
package store
