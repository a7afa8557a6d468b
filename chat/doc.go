// Package chat retrieves and normalizes post-stream chat replays.
//
// A replay is obtained per VOD by running an external export tool
// (TwitchDownloaderCLI) that writes a raw JSON document. ReadExport decodes that
// document and Normalize turns its comments into the flat, offset-ordered form the
// archive site renders. Chapters and EmbeddedEmotes pull the other two pieces of the
// export the archive keeps: game chapters for the VOD record and the third-party
// emotes the tool embedded at export time.
//
// Raw fragments reference emotes in one of two historical shapes, a direct
// {"emote":{"emoteID":...}} object or {"emoticon":{"emoticon_id":...}}. Both are
// folded into a single Fragment variant at ingestion.
package chat
