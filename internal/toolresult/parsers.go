package toolresult

import (
	"fmt"
	"strings"
)

// Tool slugs with dedicated extractors.
const (
	SlugYouTubeSearch       = "YOUTUBE_SEARCH_YOU_TUBE"
	SlugNotionFetchBlocks   = "NOTION_FETCH_BLOCK_CONTENTS"
	SlugNotionSearchPages   = "NOTION_SEARCH_NOTION_PAGE"
	SlugRedditSearch        = "REDDIT_SEARCH_ACROSS_SUBREDDITS"
	SlugGmailFetchEmails    = "GMAIL_FETCH_EMAILS"
	SlugGoogleCalendarEvent = "GOOGLECALENDAR_EVENTS_LIST"
)

const (
	maxVideos      = 5
	maxPosts       = 5
	maxEmails      = 10
	maxEvents      = 10
	maxBlocks      = 50
	maxPages       = 10
	descriptionLen = 200
	postBodyLen    = 500
	emailPreview   = 300
	blockTextLen   = 500
)

func registerBuiltins(r *Registry) {
	r.Register(SlugYouTubeSearch, parseYouTubeSearch)
	r.Register(SlugNotionFetchBlocks, parseNotionBlocks)
	r.Register(SlugNotionSearchPages, parseNotionSearch)
	r.Register(SlugRedditSearch, parseRedditSearch)
	r.Register(SlugGmailFetchEmails, parseGmailEmails)
	r.Register(SlugGoogleCalendarEvent, parseCalendarEvents)
}

// parseYouTubeSearch keeps id, title, trimmed description, channel, publish
// date and thumbnail of the first results.
func parseYouTubeSearch(data any) (any, error) {
	items, ok := firstSlice(data, "items", "response_data.items")
	if !ok {
		return nil, fmt.Errorf("youtube search: %w", errUnexpectedShape)
	}
	videos := make([]map[string]any, 0, maxVideos)
	for _, it := range items {
		if len(videos) == maxVideos {
			break
		}
		v, ok := it.(map[string]any)
		if !ok {
			continue
		}
		id := str(v, "id.videoId")
		if id == "" {
			id = str(v, "id")
		}
		snippet, _ := path(v, "snippet").(map[string]any)
		thumb := str(snippet, "thumbnails.medium.url")
		if thumb == "" {
			thumb = str(snippet, "thumbnails.default.url")
		}
		videos = append(videos, map[string]any{
			"id":          id,
			"title":       str(snippet, "title"),
			"description": trimText(str(snippet, "description"), descriptionLen),
			"channel":     str(snippet, "channelTitle"),
			"publishedAt": str(snippet, "publishedAt"),
			"thumbnail":   thumb,
			"url":         "https://www.youtube.com/watch?v=" + id,
		})
	}
	return map[string]any{"videos": videos, "total": len(items)}, nil
}

// parseNotionBlocks flattens heterogeneous block types to {id, type, text, hasChildren}.
func parseNotionBlocks(data any) (any, error) {
	results, ok := firstSlice(data, "block_child_data.results", "results")
	if !ok {
		return nil, fmt.Errorf("notion blocks: %w", errUnexpectedShape)
	}
	blocks := make([]map[string]any, 0, min(len(results), maxBlocks))
	for _, it := range results {
		if len(blocks) == maxBlocks {
			break
		}
		b, ok := it.(map[string]any)
		if !ok {
			continue
		}
		typ := str(b, "type")
		hasChildren, _ := b["has_children"].(bool)
		blocks = append(blocks, map[string]any{
			"id":          str(b, "id"),
			"type":        typ,
			"text":        trimText(blockText(b, typ), blockTextLen),
			"hasChildren": hasChildren,
		})
	}
	hasMore, _ := path(data, "block_child_data.has_more").(bool)
	if !hasMore {
		hasMore, _ = path(data, "has_more").(bool)
	}
	return map[string]any{"blocks": blocks, "hasMore": hasMore}, nil
}

func blockText(b map[string]any, typ string) string {
	body, _ := b[typ].(map[string]any)
	if body == nil {
		return ""
	}
	switch typ {
	case "child_page", "child_database":
		return str(body, "title")
	case "image", "file", "pdf", "video", "bookmark", "embed":
		if t := richText(body["caption"]); t != "" {
			return t
		}
		if u := str(body, "url"); u != "" {
			return u
		}
		return str(body, "external.url")
	case "equation":
		return str(body, "expression")
	case "to_do":
		if done, _ := body["checked"].(bool); done {
			return "[x] " + richText(body["rich_text"])
		}
		return "[ ] " + richText(body["rich_text"])
	}
	return richText(body["rich_text"])
}

func richText(v any) string {
	parts, _ := v.([]any)
	var b strings.Builder
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok {
			b.WriteString(str(m, "plain_text"))
		}
	}
	return b.String()
}

// parseNotionSearch keeps id, title, url and edit time of matching pages.
func parseNotionSearch(data any) (any, error) {
	results, ok := firstSlice(data, "response_data.results", "results")
	if !ok {
		return nil, fmt.Errorf("notion search: %w", errUnexpectedShape)
	}
	pages := make([]map[string]any, 0, min(len(results), maxPages))
	for _, it := range results {
		if len(pages) == maxPages {
			break
		}
		p, ok := it.(map[string]any)
		if !ok {
			continue
		}
		pages = append(pages, map[string]any{
			"id":             str(p, "id"),
			"object":         str(p, "object"),
			"title":          notionTitle(p),
			"url":            str(p, "url"),
			"lastEditedTime": str(p, "last_edited_time"),
		})
	}
	return map[string]any{"pages": pages, "total": len(results)}, nil
}

func notionTitle(p map[string]any) string {
	if t := richText(p["title"]); t != "" {
		return t
	}
	props, _ := p["properties"].(map[string]any)
	for _, prop := range props {
		m, ok := prop.(map[string]any)
		if !ok || str(m, "type") != "title" {
			continue
		}
		return richText(m["title"])
	}
	return ""
}

// parseRedditSearch drops posts without a body before keeping the first few.
func parseRedditSearch(data any) (any, error) {
	children, ok := firstSlice(data, "search_results.data.children", "data.children", "posts")
	if !ok {
		return nil, fmt.Errorf("reddit search: %w", errUnexpectedShape)
	}
	posts := make([]map[string]any, 0, maxPosts)
	for _, it := range children {
		if len(posts) == maxPosts {
			break
		}
		c, ok := it.(map[string]any)
		if !ok {
			continue
		}
		post := c
		if inner, ok := c["data"].(map[string]any); ok {
			post = inner
		}
		body := strings.TrimSpace(str(post, "selftext"))
		if body == "" {
			continue
		}
		posts = append(posts, map[string]any{
			"id":          str(post, "id"),
			"title":       str(post, "title"),
			"subreddit":   str(post, "subreddit"),
			"author":      str(post, "author"),
			"score":       post["score"],
			"numComments": post["num_comments"],
			"permalink":   str(post, "permalink"),
			"body":        trimText(body, postBodyLen),
		})
	}
	return map[string]any{"posts": posts}, nil
}

// parseGmailEmails keeps headers and a short preview of each message.
func parseGmailEmails(data any) (any, error) {
	msgs, ok := firstSlice(data, "messages")
	if !ok {
		return nil, fmt.Errorf("gmail fetch: %w", errUnexpectedShape)
	}
	emails := make([]map[string]any, 0, min(len(msgs), maxEmails))
	for _, it := range msgs {
		if len(emails) == maxEmails {
			break
		}
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		preview := str(m, "preview.body")
		if preview == "" {
			preview = str(m, "messageText")
		}
		emails = append(emails, map[string]any{
			"id":       str(m, "messageId"),
			"threadId": str(m, "threadId"),
			"subject":  str(m, "subject"),
			"from":     str(m, "sender"),
			"date":     str(m, "messageTimestamp"),
			"preview":  trimText(preview, emailPreview),
		})
	}
	out := map[string]any{"emails": emails}
	if tok := str(data, "nextPageToken"); tok != "" {
		out["nextPageToken"] = tok
	}
	return out, nil
}

// parseCalendarEvents keeps when and where of each event.
func parseCalendarEvents(data any) (any, error) {
	items, ok := firstSlice(data, "items", "event_data.items")
	if !ok {
		return nil, fmt.Errorf("calendar events: %w", errUnexpectedShape)
	}
	events := make([]map[string]any, 0, min(len(items), maxEvents))
	for _, it := range items {
		if len(events) == maxEvents {
			break
		}
		e, ok := it.(map[string]any)
		if !ok {
			continue
		}
		events = append(events, map[string]any{
			"id":       str(e, "id"),
			"summary":  str(e, "summary"),
			"start":    eventTime(e, "start"),
			"end":      eventTime(e, "end"),
			"location": str(e, "location"),
			"link":     str(e, "htmlLink"),
		})
	}
	return map[string]any{"events": events}, nil
}

func eventTime(e map[string]any, key string) string {
	if t := str(e, key+".dateTime"); t != "" {
		return t
	}
	return str(e, key+".date")
}

// path walks a dotted key path through nested objects.
func path(v any, dotted string) any {
	cur := v
	for _, k := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func str(v any, dotted string) string {
	s, _ := path(v, dotted).(string)
	return s
}

// firstSlice returns the first array found at one of the candidate paths.
func firstSlice(data any, paths ...string) ([]any, bool) {
	for _, p := range paths {
		if s, ok := path(data, p).([]any); ok {
			return s, true
		}
	}
	return nil, false
}

// trimText collapses whitespace and cuts to n bytes with an ellipsis.
func trimText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(cutUTF8(s, n-3)) + "..."
}
