package toolresult

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func newTestRegistry() *Registry {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewRegistry(NewSanitizer(DefaultLimits(), logger), logger)
}

func TestParse_FailureIsMinimalError(t *testing.T) {
	r := newTestRegistry()
	huge := strings.Repeat("x", 50_000)

	tests := []struct {
		name string
		slug string
		raw  string
		want string
	}{
		{"unregistered", "ACME_DO_THING", `{"successful":false,"error":"rate limited","data":{"blob":"` + huge + `"}}`, "rate limited"},
		{"registered", SlugYouTubeSearch, `{"successful":false,"error":"quota exceeded","data":{"items":[]}}`, "quota exceeded"},
		{"no message", "ACME_DO_THING", `{"successful":false,"error":null,"data":{}}`, "tool execution failed"},
		{"error without flag", "ACME_DO_THING", `{"error":"token expired"}`, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Parse(context.Background(), tt.slug, "acme", json.RawMessage(tt.raw))
			want := map[string]any{"error": tt.want}
			if !reflect.DeepEqual(out, want) {
				t.Fatalf("expected %v, got %#v", want, out)
			}
		})
	}
}

func TestParse_LongErrorTruncated(t *testing.T) {
	r := newTestRegistry()
	raw := fmt.Sprintf(`{"successful":false,"error":%q}`, strings.Repeat("e", 5000))

	out := r.Parse(context.Background(), "ACME_X", "acme", json.RawMessage(raw)).(map[string]any)

	if n := len(out["error"].(string)); n > DefaultLimits().MaxStringLength {
		t.Fatalf("expected error <= max length, got %d", n)
	}
}

func TestParse_UnregisteredFallsBackToSanitizer(t *testing.T) {
	r := newTestRegistry()
	raw := `{"successful":true,"data":{"id":"p1","content":"` + strings.Repeat("word ", 500) + `"}}`

	out := r.Parse(context.Background(), "ACME_FETCH", "acme", json.RawMessage(raw))

	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %#v", out)
	}
	data := m["data"].(map[string]any)
	if data["id"] != "p1" {
		t.Errorf("expected id kept, got %v", data["id"])
	}
	if summaryType(data["content"]) != TypeTextSummary {
		t.Errorf("expected content summarized, got %#v", data["content"])
	}
}

func TestParse_NonJSONResult(t *testing.T) {
	r := newTestRegistry()
	out := r.Parse(context.Background(), "ACME_PING", "acme", json.RawMessage("pong"))
	if out != "pong" {
		t.Fatalf("expected raw text, got %#v", out)
	}
}

func TestParse_ParserPanicFallsBack(t *testing.T) {
	r := newTestRegistry()
	r.Register("ACME_BOOM", func(any) (any, error) { panic("bad index") })

	out := r.Parse(context.Background(), "ACME_BOOM", "acme", json.RawMessage(`{"successful":true,"data":{"id":"1"}}`))

	m, ok := out.(map[string]any)
	if !ok || m["data"].(map[string]any)["id"] != "1" {
		t.Fatalf("expected sanitized raw result, got %#v", out)
	}
}

func TestParse_ParserErrorFallsBack(t *testing.T) {
	r := newTestRegistry()
	r.Register("ACME_ERR", func(any) (any, error) { return nil, errors.New("nope") })

	out := r.Parse(context.Background(), "ACME_ERR", "acme", json.RawMessage(`{"successful":true,"data":[1,2]}`))

	m, ok := out.(map[string]any)
	if !ok || m["successful"] != true {
		t.Fatalf("expected sanitized raw result, got %#v", out)
	}
}

func TestParse_UnexpectedShapeFallsBack(t *testing.T) {
	r := newTestRegistry()
	out := r.Parse(context.Background(), SlugRedditSearch, "reddit", json.RawMessage(`{"successful":true,"data":{"weird":1}}`))
	m, ok := out.(map[string]any)
	if !ok || m["data"] == nil {
		t.Fatalf("expected sanitized raw result, got %#v", out)
	}
}

func TestParse_YouTubeSearch(t *testing.T) {
	r := newTestRegistry()
	items := make([]map[string]any, 8)
	for i := range items {
		items[i] = map[string]any{
			"id": map[string]any{"videoId": fmt.Sprintf("v%d", i)},
			"snippet": map[string]any{
				"title":        fmt.Sprintf("Video %d", i),
				"description":  strings.Repeat("desc ", 100),
				"channelTitle": "Chan",
				"publishedAt":  "2024-01-02T03:04:05Z",
				"thumbnails":   map[string]any{"default": map[string]any{"url": "https://i.ytimg.com/x.jpg"}},
				"tags":         []string{"ignored"},
			},
		}
	}
	raw, _ := json.Marshal(map[string]any{"successful": true, "data": map[string]any{"response_data": map[string]any{"items": items}}})

	out := r.Parse(context.Background(), SlugYouTubeSearch, "youtube", raw).(map[string]any)

	videos := out["videos"].([]any)
	if len(videos) != maxVideos {
		t.Fatalf("expected %d videos, got %d", maxVideos, len(videos))
	}
	v0 := videos[0].(map[string]any)
	if v0["id"] != "v0" || v0["title"] != "Video 0" || v0["channel"] != "Chan" {
		t.Errorf("unexpected video %v", v0)
	}
	if d := v0["description"].(string); len(d) > descriptionLen {
		t.Errorf("expected trimmed description, got %d bytes", len(d))
	}
	if v0["thumbnail"] != "https://i.ytimg.com/x.jpg" {
		t.Errorf("expected default thumbnail fallback, got %v", v0["thumbnail"])
	}
	if _, ok := v0["tags"]; ok {
		t.Error("unrequested fields must be dropped")
	}
	if out["total"] != float64(8) && out["total"] != 8 {
		t.Errorf("expected total 8, got %v", out["total"])
	}
}

func TestParse_NotionBlocks(t *testing.T) {
	r := newTestRegistry()
	raw := `{"successful":true,"data":{"block_child_data":{"has_more":true,"results":[
		{"id":"b1","type":"paragraph","has_children":false,"paragraph":{"rich_text":[{"plain_text":"Hello "},{"plain_text":"world"}]}},
		{"id":"b2","type":"child_page","has_children":true,"child_page":{"title":"Sub page"}},
		{"id":"b3","type":"to_do","has_children":false,"to_do":{"checked":true,"rich_text":[{"plain_text":"ship it"}]}},
		{"id":"b4","type":"image","has_children":false,"image":{"external":{"url":"https://img/x.png"}}}
	]}}}`

	out := r.Parse(context.Background(), SlugNotionFetchBlocks, "notion", json.RawMessage(raw)).(map[string]any)

	blocks := out["blocks"].([]any)
	want := []map[string]any{
		{"id": "b1", "type": "paragraph", "text": "Hello world", "hasChildren": false},
		{"id": "b2", "type": "child_page", "text": "Sub page", "hasChildren": true},
		{"id": "b3", "type": "to_do", "text": "[x] ship it", "hasChildren": false},
		{"id": "b4", "type": "image", "text": "https://img/x.png", "hasChildren": false},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d", len(want), len(blocks))
	}
	for i, w := range want {
		got := blocks[i].(map[string]any)
		for k, v := range w {
			if got[k] != v {
				t.Errorf("block %d %s: expected %v, got %v", i, k, v, got[k])
			}
		}
	}
	if out["hasMore"] != true {
		t.Error("expected hasMore")
	}
}

func notionBlocksRaw(t *testing.T, n int, text string) json.RawMessage {
	t.Helper()
	results := make([]map[string]any, 0, n)
	for i := range n {
		results = append(results, map[string]any{
			"id": fmt.Sprintf("b%d", i), "type": "paragraph", "has_children": false,
			"paragraph": map[string]any{"rich_text": []any{map[string]any{"plain_text": text}}},
		})
	}
	raw, err := json.Marshal(map[string]any{"successful": true, "data": map[string]any{
		"block_child_data": map[string]any{"results": results},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestParse_NotionBlocksKeepsParserLimit(t *testing.T) {
	r := newTestRegistry()
	out := r.Parse(context.Background(), SlugNotionFetchBlocks, "notion", notionBlocksRaw(t, 30, "short paragraph")).(map[string]any)

	blocks := out["blocks"].([]any)
	if len(blocks) != 30 {
		t.Fatalf("expected all 30 blocks, got %d", len(blocks))
	}
	if last, ok := blocks[29].(map[string]any); !ok || last["id"] != "b29" {
		t.Errorf("unexpected last block %#v", blocks[29])
	}
}

func TestParse_LargeParsedResultStaysUnderCeiling(t *testing.T) {
	r := newTestRegistry()
	text := strings.Repeat("lorem ", 100)
	out := r.Parse(context.Background(), SlugNotionFetchBlocks, "notion", notionBlocksRaw(t, maxBlocks, text))

	b, _ := json.Marshal(out)
	if len(b) > DefaultLimits().MaxOutputBytes {
		t.Fatalf("expected at most %d bytes, got %d", DefaultLimits().MaxOutputBytes, len(b))
	}
	blocks := out.(map[string]any)["blocks"].([]any)
	if len(blocks) <= DefaultLimits().MaxArrayItems+1 {
		t.Errorf("expected the byte budget, not the item cap, to bound blocks; got %d", len(blocks))
	}
	marker, ok := blocks[len(blocks)-1].(string)
	if !ok || !strings.HasPrefix(marker, "[... ") {
		t.Errorf("expected a truncation marker, got %#v", blocks[len(blocks)-1])
	}
	if first := blocks[0].(map[string]any); first["text"] != trimText(text, blockTextLen) {
		t.Errorf("block text was rewritten: %#v", first["text"])
	}
}

func TestParse_NotionSearch(t *testing.T) {
	r := newTestRegistry()
	raw := `{"successful":true,"data":{"response_data":{"results":[
		{"object":"page","id":"p1","url":"https://notion.so/p1","last_edited_time":"2024-05-01T00:00:00Z",
		 "properties":{"Name":{"type":"title","title":[{"plain_text":"Roadmap"}]}}},
		{"object":"database","id":"d1","title":[{"plain_text":"Tasks"}]}
	]}}}`

	out := r.Parse(context.Background(), SlugNotionSearchPages, "notion", json.RawMessage(raw)).(map[string]any)

	pages := out["pages"].([]any)
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if p := pages[0].(map[string]any); p["title"] != "Roadmap" || p["lastEditedTime"] != "2024-05-01T00:00:00Z" {
		t.Errorf("unexpected page %v", p)
	}
	if p := pages[1].(map[string]any); p["title"] != "Tasks" {
		t.Errorf("expected database title, got %v", p)
	}
}

func TestParse_RedditFiltersBodyless(t *testing.T) {
	r := newTestRegistry()
	children := make([]map[string]any, 0, 10)
	for i := range 10 {
		body := ""
		if i%2 == 1 {
			body = fmt.Sprintf("post body %d", i)
		}
		children = append(children, map[string]any{"data": map[string]any{
			"id": fmt.Sprintf("t%d", i), "title": fmt.Sprintf("T%d", i), "subreddit": "golang", "selftext": body, "score": i,
		}})
	}
	raw, _ := json.Marshal(map[string]any{"successful": true, "data": map[string]any{
		"search_results": map[string]any{"data": map[string]any{"children": children}},
	}})

	out := r.Parse(context.Background(), SlugRedditSearch, "reddit", raw).(map[string]any)

	posts := out["posts"].([]any)
	if len(posts) != maxPosts {
		t.Fatalf("expected %d posts, got %d", maxPosts, len(posts))
	}
	for _, p := range posts {
		if p.(map[string]any)["body"] == "" {
			t.Fatal("posts without a body must be dropped")
		}
	}
	if first := posts[0].(map[string]any); first["id"] != "t1" || first["subreddit"] != "golang" {
		t.Errorf("unexpected first post %v", first)
	}
}

func TestParse_RedditBodyKeptVerbatim(t *testing.T) {
	r := newTestRegistry()
	body := strings.TrimSpace(strings.Repeat("word ", 90))
	raw, _ := json.Marshal(map[string]any{"successful": true, "data": map[string]any{
		"search_results": map[string]any{"data": map[string]any{"children": []any{
			map[string]any{"data": map[string]any{"id": "t1", "title": "Long post", "selftext": body}},
		}}},
	}})

	out := r.Parse(context.Background(), SlugRedditSearch, "reddit", raw).(map[string]any)

	post := out["posts"].([]any)[0].(map[string]any)
	if post["body"] != body {
		t.Fatalf("expected the %d-byte body unchanged, got %#v", len(body), post["body"])
	}
}

func TestParse_GmailAndCalendar(t *testing.T) {
	r := newTestRegistry()

	gmail := `{"successful":true,"data":{"nextPageToken":"tok","messages":[
		{"messageId":"m1","threadId":"t1","subject":"Hi","sender":"a@b.c","messageTimestamp":"2024-01-01","preview":{"body":"see you"},"payload":{"huge":true}}
	]}}`
	out := r.Parse(context.Background(), SlugGmailFetchEmails, "gmail", json.RawMessage(gmail)).(map[string]any)
	emails := out["emails"].([]any)
	if len(emails) != 1 || emails[0].(map[string]any)["preview"] != "see you" {
		t.Fatalf("unexpected emails %v", emails)
	}
	if out["nextPageToken"] != "tok" {
		t.Errorf("expected page token, got %v", out["nextPageToken"])
	}

	cal := `{"successful":true,"data":{"items":[
		{"id":"e1","summary":"Standup","start":{"dateTime":"2024-01-01T09:00:00Z"},"end":{"date":"2024-01-01"},"location":"Room 1"}
	]}}`
	out = r.Parse(context.Background(), SlugGoogleCalendarEvent, "googlecalendar", json.RawMessage(cal)).(map[string]any)
	ev := out["events"].([]any)[0].(map[string]any)
	if ev["start"] != "2024-01-01T09:00:00Z" || ev["end"] != "2024-01-01" || ev["summary"] != "Standup" {
		t.Errorf("unexpected event %v", ev)
	}
}
