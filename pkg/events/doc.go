// Package events keeps a bounded journal of pipeline lifecycle transitions
// (lease acquired/lost, dump started/completed, upload batch outcomes).
// Producer, Dumper, Uploader, and the cache's lease code record into it;
// tests and debug hooks read it back with Recent or follow it live with
// Watch instead of scraping logs or sleeping on internal state.
package events
