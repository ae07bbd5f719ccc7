package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const blogRSS = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
  <title>Example &amp; Co Blog</title>
  <link>https://blog.example.com</link>
  <item>
    <title>Fresh &lt;b&gt;post&lt;/b&gt; about   Go</title>
    <link>https://blog.example.com/fresh</link>
    <pubDate>Mon, 03 Mar 2025 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Old post</title>
    <link>https://blog.example.com/old</link>
    <pubDate>Sat, 01 Feb 2025 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title></title>
    <link>https://blog.example.com/undated</link>
  </item>
  <item>
    <title>No link</title>
  </item>
</channel>
</rss>`

const channelAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Gopher Talks</title>
 <author><name>Gopher Talks</name><uri>https://www.youtube.com/channel/UC123</uri></author>
 <entry>
  <id>yt:video:dQw4w9WgXcQ</id>
  <yt:videoId>dQw4w9WgXcQ</yt:videoId>
  <title>Concurrency is not parallelism</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
  <published>2025-03-03T12:00:00+00:00</published>
 </entry>
</feed>`

func serve(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverFiltersBySinceAndCleansTitles(t *testing.T) {
	t.Parallel()

	srv := serve(t, blogRSS, http.StatusOK)
	d, err := New(Config{FeedURL: srv.URL}, nil)
	require.NoError(t, err)
	require.Equal(t, "rss:"+srv.URL, d.Name())

	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	items, err := d.Discover(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "https://blog.example.com/fresh", items[0].URL)
	require.Equal(t, "Fresh post about Go", items[0].Title)
	require.Equal(t, "Example & Co Blog", items[0].Source)
	require.Equal(t, ingest.KindArticle, items[0].Kind)
	require.Equal(t, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), *items[0].PublishedAt)

	require.Equal(t, "https://blog.example.com/undated", items[1].URL)
	require.Equal(t, "https://blog.example.com/undated", items[1].Title)
	require.Nil(t, items[1].PublishedAt)
}

func TestDiscoverYouTubeChannelFeed(t *testing.T) {
	t.Parallel()

	srv := serve(t, channelAtom, http.StatusOK)
	d, err := New(Config{FeedURL: srv.URL, Kind: ingest.KindVideo}, nil)
	require.NoError(t, err)
	require.Equal(t, "youtube:"+srv.URL, d.Name())

	items, err := d.Discover(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "dQw4w9WgXcQ", items[0].MediaID)
	require.Equal(t, "Gopher Talks", items[0].Source)
	require.Equal(t, ingest.KindVideo, items[0].Kind)
}

func TestDiscoverClassifiesFailures(t *testing.T) {
	t.Parallel()

	limited := serve(t, "slow down", http.StatusTooManyRequests)

	video, err := New(Config{FeedURL: limited.URL, Kind: ingest.KindVideo}, nil)
	require.NoError(t, err)
	_, err = video.Discover(context.Background(), time.Time{})
	require.True(t, ingest.IsBlocked(err))

	article, err := New(Config{FeedURL: limited.URL}, nil)
	require.NoError(t, err)
	_, err = article.Discover(context.Background(), time.Time{})
	require.Error(t, err)
	require.False(t, ingest.IsBlocked(err))

	broken := serve(t, "not a feed", http.StatusOK)
	d, err := New(Config{FeedURL: broken.URL}, nil)
	require.NoError(t, err)
	_, err = d.Discover(context.Background(), time.Time{})
	require.Error(t, err)
}

func TestNewRequiresFeedURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestChannelFeedURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UC123", ChannelFeedURL("UC123"))
}
