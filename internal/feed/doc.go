// Package feed holds the timeline value types shared by the store, the cache,
// the dispatcher and the reader: entries and their ordering, the push/pull
// delivery decision, merge and trim of bounded timelines, and cursor
// pagination.
//
// A timeline is always ordered newest-first by (CreatedAt desc, PostID desc).
// Every function here returns ordered, duplicate-free slices and never mutates
// its inputs.
package feed
