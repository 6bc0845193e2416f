// Package conversation holds the conversation domain: messages, saved
// records, and their persistence.
//
// # Records
//
// A Record is a finished live session: its messages, model, language,
// category and creation time. A MovieRecord is one "walk into a movie"
// result with the frame that produced it. Records derive their display
// title, summary and relative date on demand.
//
// # Persistence
//
// Store and MovieStore keep capacity-bounded, most-recent-first lists in a
// store.KV under fixed keys:
//
//	records := conversation.NewStore(kv, blobs, logger)
//	err := records.Save(ctx, record)
//
// Saving beyond capacity evicts the oldest records. Evicted and deleted
// records cascade-delete their image files through the BlobDeleter.
// Corrupt stored data loads as an empty list and is logged.
//
// # Transcript
//
// Transcript buffers the in-progress session. User messages stay open for
// attachments and appended text until the session is saved.
//
// # Export
//
// Markdown and RenderHTML turn a record into a shareable document.
package conversation
