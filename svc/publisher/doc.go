// Package publisher contains the outbound platform adapters that deliver
// posts to external social networks.
//
// The central contract is Publisher plus the classified Error type: every
// failed delivery comes back tagged KindTransient (worth retrying:
// network errors, rate limits, upstream 5xx) or KindPermanent (a retry
// cannot help: revoked tokens, forbidden accounts, rejected content).
// The dispatch layer uses IsPermanent to decide between backing off and
// giving up immediately.
//
// LinkedInPublisher is the shipping adapter, talking to the LinkedIn UGC
// Posts API. MediaResolver turns stored media ids into fetchable URLs;
// S3MediaResolver serves them from an S3 bucket, StaticResolver backs
// tests.
package publisher
