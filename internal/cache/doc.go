// Package cache holds the two storage layers behind the image pipeline: an
// in-process LRU store that is the authoritative lookup path (bounded by bytes
// and entry count, with optional lazy max-age expiry), and a disk layer that
// persists finished rescale results across restarts using sha256-sharded
// files written atomically (temp file + rename). The pipeline consults memory
// first, falls back to disk, and only then goes upstream; partial results are
// never visible in either layer.
package cache
