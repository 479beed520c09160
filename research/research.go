package research

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/textgen"
)

// Source gathers factual context about a topic for the script writer.
type Source interface {
	Name() string
	Gather(ctx context.Context, topic string) (string, error)
}

// WebSource asks the text service to search the web.
type WebSource struct {
	gen    textgen.Generator
	model  string
	prompt string
	log    *slog.Logger
}

func NewWebSource(gen textgen.Generator, model, promptTmpl string, logger *slog.Logger) *WebSource {
	return &WebSource{
		gen:    gen,
		model:  model,
		prompt: promptTmpl,
		log:    logging.OrDiscard(logger).With("component", "research", "source", "web"),
	}
}

func (w *WebSource) Name() string { return "web" }

func (w *WebSource) Gather(ctx context.Context, topic string) (string, error) {
	w.log.Info("searching the web", "topic", topic)
	text, err := w.gen.Generate(ctx, textgen.Request{
		Model:       w.model,
		Prompt:      prompts.Render(w.prompt, map[string]string{"topic": topic}),
		Temperature: 0,
		MaxTokens:   4096,
		WebSearch:   true,
	})
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	return text, nil
}

// postSearcher is satisfied by *reddit.SubredditService.
type postSearcher interface {
	SearchPosts(ctx context.Context, query, subreddit string, opts *reddit.ListPostSearchOptions) ([]*reddit.Post, *reddit.Response, error)
}

// RedditSource collects the best matching posts from a set of subreddits.
type RedditSource struct {
	search     postSearcher
	subreddits []string
	limit      int
	log        *slog.Logger
}

// NewRedditSource creates a read-only reddit client. userAgent may be empty.
func NewRedditSource(userAgent string, subreddits []string, limit int, logger *slog.Logger) (*RedditSource, error) {
	var opts []reddit.Opt
	if userAgent != "" {
		opts = append(opts, reddit.WithUserAgent(userAgent))
	}
	client, err := reddit.NewReadonlyClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}
	return newRedditSource(client.Subreddit, subreddits, limit, logger), nil
}

func newRedditSource(s postSearcher, subreddits []string, limit int, logger *slog.Logger) *RedditSource {
	if limit <= 0 {
		limit = 10
	}
	return &RedditSource{
		search:     s,
		subreddits: subreddits,
		limit:      limit,
		log:        logging.OrDiscard(logger).With("component", "research", "source", "reddit"),
	}
}

func (r *RedditSource) Name() string { return "reddit" }

// Gather searches every subreddit and formats the highest scored posts.
// A subreddit that fails is logged and skipped; it is an error only when
// nothing at all was found.
func (r *RedditSource) Gather(ctx context.Context, topic string) (string, error) {
	var posts []*reddit.Post
	for _, sub := range r.subreddits {
		found, _, err := r.search.SearchPosts(ctx, topic, sub, &reddit.ListPostSearchOptions{
			ListPostOptions: reddit.ListPostOptions{
				ListOptions: reddit.ListOptions{Limit: r.limit},
				Time:        "year",
			},
			Sort: "relevance",
		})
		if err != nil {
			r.log.Warn("subreddit search failed", "subreddit", sub, "err", err)
			continue
		}
		r.log.Info("subreddit searched", "subreddit", sub, "posts", len(found))
		posts = append(posts, found...)
	}
	if len(posts) == 0 {
		return "", fmt.Errorf("no reddit posts found for %q", topic)
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Score > posts[j].Score })
	if len(posts) > r.limit {
		posts = posts[:r.limit]
	}

	var sb strings.Builder
	for _, p := range posts {
		fmt.Fprintf(&sb, "r/%s | %s (score %d, %d comments)\n", p.SubredditName, p.Title, p.Score, p.NumberOfComments)
		if body := strings.TrimSpace(p.Body); body != "" {
			sb.WriteString(truncate(body, 600))
			sb.WriteString("\n")
		}
		if p.URL != "" {
			sb.WriteString(p.URL)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

// None disables fact gathering.
type None struct{}

func (None) Name() string { return "none" }

func (None) Gather(ctx context.Context, topic string) (string, error) { return "", nil }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
