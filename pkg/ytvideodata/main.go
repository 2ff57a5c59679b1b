package ytvideodata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultOEmbedURL = "https://www.youtube.com/oembed"
	DefaultPageURL   = "https://youtu.be/"
)

type VideoData struct {
	VideoId      string `json:"video_id"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type Client struct {
	httpClient *http.Client
	oEmbedURL  string
	pageURL    string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the oEmbed endpoint and the watch page prefix.
func WithEndpoints(oEmbedURL, pageURL string) Option {
	return func(c *Client) {
		c.oEmbedURL = oEmbedURL
		c.pageURL = pageURL
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		oEmbedURL:  DefaultOEmbedURL,
		pageURL:    DefaultPageURL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get resolves a video URL or id. Videos that cannot be embedded fall back to
// scraping the watch page.
func (c *Client) Get(ctx context.Context, videoRef string) (*VideoData, error) {
	videoId, err := ParseVideoId(videoRef)
	if err != nil {
		return nil, err
	}

	videoData, err := c.getVideoWithEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video data with embed: %w", err)
		}

		videoData, err = c.getFromPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video data from page: %w", err)
		}
	}

	videoData.VideoId = videoId
	return videoData, nil
}
