package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/types"
)

// Uploader publishes a finished video and returns its id.
type Uploader interface {
	Upload(ctx context.Context, videoFile string, meta *types.VideoMetadata) (string, error)
}

// Credentials for the YouTube Data API. The refresh token is exchanged for
// an access token on first use.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// CredentialsFromEnv reads YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET and
// YOUTUBE_REFRESH_TOKEN.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		ClientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		ClientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		RefreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN"),
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return c, fmt.Errorf("%w: YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET or YOUTUBE_REFRESH_TOKEN not set", types.ErrInvalidRequest)
	}
	return c, nil
}

// UploadOptions are channel-level settings applied to every upload.
type UploadOptions struct {
	DefaultLanguage   string
	MadeForKids       bool
	NotifySubscribers bool
	// Endpoint overrides the API base URL; tests point it at a local server.
	Endpoint string
}

// YouTube uploads through the YouTube Data API v3.
type YouTube struct {
	creds Credentials
	opts  UploadOptions
	log   *slog.Logger
}

func NewYouTube(creds Credentials, opts UploadOptions, logger *slog.Logger) *YouTube {
	return &YouTube{
		creds: creds,
		opts:  opts,
		log:   logging.OrDiscard(logger).With("component", "upload"),
	}
}

func (y *YouTube) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     y.creds.ClientID,
		ClientSecret: y.creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
}

func (y *YouTube) service(ctx context.Context) (*youtube.Service, error) {
	token := &oauth2.Token{
		RefreshToken: y.creds.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	client := y.oauthConfig().Client(ctx, token)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.opts.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return svc, nil
}

// Upload sends videoFile with a resumable media upload.
func (y *YouTube) Upload(ctx context.Context, videoFile string, meta *types.VideoMetadata) (string, error) {
	svc, err := y.service(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil {
		y.log.Info("uploading", "title", meta.Title, "size_mb", fmt.Sprintf("%.1f", float64(fi.Size())/1024/1024))
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      y.opts.DefaultLanguage,
			DefaultAudioLanguage: y.opts.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           meta.Visibility,
			SelfDeclaredMadeForKids: y.opts.MadeForKids,
		},
	}

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(y.opts.NotifySubscribers).
		Media(f).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: youtube upload: %v", types.ErrRequestFailure, err)
	}
	y.log.Info("uploaded", "video_id", uploaded.Id)
	return uploaded.Id, nil
}

// WatchURL is the public page of an uploaded video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
