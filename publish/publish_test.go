package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"

	"github.com/hqta1110/video-pipeline/textgen"
	"github.com/hqta1110/video-pipeline/types"
)

type replyGen struct {
	req   textgen.Request
	reply string
}

func (g *replyGen) Generate(ctx context.Context, req textgen.Request) (string, error) {
	g.req = req
	return g.reply, nil
}

var script = types.Script{
	{ID: 2, SSML: `<speak>The river <break time="300ms"/> runs.</speak>`},
	{ID: 1, SSML: "<speak>Hue, the old capital.</speak>"},
}

func TestNarration(t *testing.T) {
	want := "Hue, the old capital.\nThe river runs."
	if got := Narration(script); got != want {
		t.Errorf("Narration = %q, want %q", got, want)
	}
}

func TestMetadataWriter(t *testing.T) {
	gen := &replyGen{reply: "```json\n" + `{"title": "The Forgotten Citadel of Hue and Its Emperors", "description": " Hue. ", "tags": ["a","b","c","d"]}` + "\n```"}
	w := NewMetadataWriter(gen, "be an SEO expert", "Narration:\n{narration}", MetadataOptions{
		Model: "m", TitleMaxChars: 20, TagsCount: 3, CategoryID: "27", Visibility: "private",
	}, nil)

	meta, err := w.Write(context.Background(), script)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if meta.Title != "The Forgotten Cit..." || len([]rune(meta.Title)) != 20 {
		t.Errorf("title = %q", meta.Title)
	}
	if len(meta.Tags) != 3 || meta.Description != "Hue." {
		t.Errorf("meta = %+v", meta)
	}
	if meta.CategoryID != "27" || meta.Visibility != "private" {
		t.Errorf("channel fields = %+v", meta)
	}
	if gen.req.System != "be an SEO expert" {
		t.Errorf("system = %q", gen.req.System)
	}
	if !strings.Contains(gen.req.Prompt, "Hue, the old capital.") {
		t.Errorf("prompt = %q", gen.req.Prompt)
	}
}

func TestMetadataWriterRejectsBadReply(t *testing.T) {
	for _, reply := range []string{"no json here", `{"description": "x"}`} {
		w := NewMetadataWriter(&replyGen{reply: reply}, "", "{narration}", MetadataOptions{}, nil)
		if _, err := w.Write(context.Background(), script); !errors.Is(err, types.ErrProtocol) {
			t.Errorf("reply %q: err = %v", reply, err)
		}
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("YOUTUBE_CLIENT_ID", "id")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "secret")
	t.Setenv("YOUTUBE_REFRESH_TOKEN", "")
	if _, err := CredentialsFromEnv(); !errors.Is(err, types.ErrInvalidRequest) {
		t.Fatalf("missing token err = %v", err)
	}

	t.Setenv("YOUTUBE_REFRESH_TOKEN", "refresh")
	creds, err := CredentialsFromEnv()
	if err != nil || creds.RefreshToken != "refresh" {
		t.Fatalf("creds = %+v, %v", creds, err)
	}

	conf := NewYouTube(creds, UploadOptions{}, nil).oauthConfig()
	if conf.Endpoint != google.Endpoint || conf.ClientID != "id" {
		t.Errorf("oauth config = %+v", conf)
	}
	if len(conf.Scopes) != 1 || conf.Scopes[0] != youtube.YoutubeUploadScope {
		t.Errorf("scopes = %v", conf.Scopes)
	}
}

func TestUploadMissingFile(t *testing.T) {
	y := NewYouTube(Credentials{ClientID: "id", ClientSecret: "s", RefreshToken: "r"}, UploadOptions{}, nil)
	if _, err := y.Upload(context.Background(), t.TempDir()+"/missing.mp4", &types.VideoMetadata{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatchURL(t *testing.T) {
	if got := WatchURL("abc"); got != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("WatchURL = %q", got)
	}
}
