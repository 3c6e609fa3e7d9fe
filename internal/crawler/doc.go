// Package crawler holds the directory crawl core: the link and record model,
// the Result sum type cached per URL, origin-chain region resolution, and the
// batched frontier Engine that drives page handlers through a fetch cache into
// a record index.
package crawler
