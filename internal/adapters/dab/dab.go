package dab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jpp0ca/dabcli/internal/domain"
)

const (
	DefaultBaseURL = "https://dab.yeet.su/api"
	sessionCookie  = "session"
)

var (
	ErrNotLoggedIn = errors.New("dab: not logged in")
	ErrNotFound    = errors.New("dab: not found")
	ErrLoginFailed = errors.New("dab: login failed")
)

// Credentials are used for login and automatic re-login.
type Credentials struct {
	Email    string
	Password string
}

// Client implements ports.ContentSource and ports.Catalog against the DAB
// HTTP API. Requests authenticate with the session cookie.
type Client struct {
	client  *http.Client
	baseURL string
	creds   Credentials
	debug   bool
	onLogin func(email, token string)

	mu    sync.Mutex
	token string
}

// NewClient creates a client. If client is nil, http.DefaultClient is used.
func NewClient(client *http.Client, baseURL, token string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// SetCredentials enables automatic login when no token is configured.
// onLogin, if set, is called with every new token so it can be persisted.
func (c *Client) SetCredentials(creds Credentials, onLogin func(email, token string)) {
	c.creds = creds
	c.onLogin = onLogin
}

// SetDebug logs every outbound request.
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// -- API response types (internal) ------------------------------------------

// flexID accepts both numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type trackData struct {
	ID          flexID `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AlbumTitle  string `json:"albumTitle"`
	Genre       string `json:"genre"`
	ReleaseDate string `json:"releaseDate"`
	AlbumCover  string `json:"albumCover"`
}

type searchResponse struct {
	Tracks []trackData `json:"tracks"`
}

type albumResponse struct {
	Album albumData `json:"album"`
}

type albumData struct {
	ID          flexID      `json:"id"`
	Title       string      `json:"title"`
	Artist      string      `json:"artist"`
	Genre       string      `json:"genre"`
	ReleaseDate string      `json:"releaseDate"`
	Cover       string      `json:"cover"`
	Tracks      []trackData `json:"tracks"`
}

type albumSearchResponse struct {
	Albums []albumData `json:"albums"`
}

type libraryResponse struct {
	Library struct {
		ID     flexID      `json:"id"`
		Name   string      `json:"name"`
		Tracks []trackData `json:"tracks"`
	} `json:"library"`
}

type streamResponse struct {
	URL string `json:"url"`
}

// -- ContentSource / Catalog implementation ---------------------------------

func (c *Client) StreamURL(ctx context.Context, trackID string, quality string) (string, error) {
	q := url.Values{"trackId": {trackID}, "quality": {quality}}
	body, err := c.doGet(ctx, "/stream", q)
	if err != nil {
		return "", fmt.Errorf("dab: failed to get stream url: %w", err)
	}

	var resp streamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("dab: failed to parse stream response: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("dab: stream for track %s: %w", trackID, ErrNotFound)
	}
	return resp.URL, nil
}

func (c *Client) Track(ctx context.Context, trackID string) (*domain.Track, error) {
	body, err := c.doGet(ctx, "/search", url.Values{"q": {trackID}, "type": {"track"}})
	if err != nil {
		return nil, fmt.Errorf("dab: search failed: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dab: failed to parse search response: %w", err)
	}

	for _, t := range resp.Tracks {
		if string(t.ID) == trackID {
			track := toTrack(t)
			return &track, nil
		}
	}
	return nil, fmt.Errorf("dab: track %s: %w", trackID, ErrNotFound)
}

func (c *Client) Album(ctx context.Context, albumID string) (*domain.Album, error) {
	body, err := c.doGet(ctx, "/albums/"+url.PathEscape(albumID), nil)
	if err != nil {
		return nil, fmt.Errorf("dab: failed to get album: %w", err)
	}

	var resp albumResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dab: failed to parse album response: %w", err)
	}
	if len(resp.Album.Tracks) == 0 {
		return nil, fmt.Errorf("dab: album %s has no tracks: %w", albumID, ErrNotFound)
	}

	a := resp.Album
	album := &domain.Album{ID: string(a.ID), Title: a.Title, Artist: a.Artist, ReleaseDate: a.ReleaseDate}
	if album.ID == "" {
		album.ID = albumID
	}
	if album.Title == "" {
		album.Title = "album_" + albumID
	}
	for _, t := range a.Tracks {
		track := toTrack(t)
		// Album-level fields fill what the track entries omit.
		track.AlbumTitle = album.Title
		if track.Genre == "" {
			track.Genre = a.Genre
		}
		if track.ReleaseDate == "" {
			track.ReleaseDate = a.ReleaseDate
		}
		if track.AlbumCover == "" {
			track.AlbumCover = a.Cover
		}
		album.Tracks = append(album.Tracks, track)
	}
	return album, nil
}

// SearchAlbums runs an album search by title.
func (c *Client) SearchAlbums(ctx context.Context, title string) ([]domain.Album, error) {
	body, err := c.doGet(ctx, "/search", url.Values{"q": {title}, "type": {"album"}})
	if err != nil {
		return nil, fmt.Errorf("dab: album search failed: %w", err)
	}

	var resp albumSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dab: failed to parse album search response: %w", err)
	}

	albums := make([]domain.Album, 0, len(resp.Albums))
	for _, a := range resp.Albums {
		albums = append(albums, domain.Album{
			ID:          string(a.ID),
			Title:       a.Title,
			Artist:      a.Artist,
			ReleaseDate: a.ReleaseDate,
		})
	}
	return albums, nil
}

func (c *Client) Library(ctx context.Context, libraryID string) (*domain.Library, error) {
	q := url.Values{"limit": {"9999"}, "page": {"1"}}
	body, err := c.doGet(ctx, "/libraries/"+url.PathEscape(libraryID), q)
	if err != nil {
		return nil, fmt.Errorf("dab: failed to get library: %w", err)
	}

	var resp libraryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dab: failed to parse library response: %w", err)
	}
	if len(resp.Library.Tracks) == 0 {
		return nil, fmt.Errorf("dab: library %s has no tracks: %w", libraryID, ErrNotFound)
	}

	lib := &domain.Library{ID: string(resp.Library.ID), Name: resp.Library.Name}
	if lib.ID == "" {
		lib.ID = libraryID
	}
	if lib.Name == "" {
		lib.Name = "library_" + libraryID
	}
	for _, t := range resp.Library.Tracks {
		lib.Tracks = append(lib.Tracks, toTrack(t))
	}
	return lib, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	payload, _ := json.Marshal(map[string]string{"email": creds.Email, "password": creds.Password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.logRequest(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dab: login request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrLoginFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie && ck.Value != "" {
			c.mu.Lock()
			c.token = ck.Value
			c.mu.Unlock()
			if c.onLogin != nil {
				c.onLogin(creds.Email, ck.Value)
			}
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("%w: no session cookie in response", ErrLoginFailed)
}

// -- HTTP helpers ------------------------------------------------------------

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if token := c.Token(); token != "" {
		return token, nil
	}
	if c.creds.Email == "" || c.creds.Password == "" {
		return "", ErrNotLoggedIn
	}
	log.Printf("[dab] no token found, logging in as %s", c.creds.Email)
	return c.Login(ctx, c.creds)
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	c.logRequest(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrNotLoggedIn
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("dab API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) logRequest(req *http.Request) {
	if c.debug {
		log.Printf("[dab] %s %s", req.Method, req.URL.Redacted())
	}
}

// -- Helpers -----------------------------------------------------------------

func toTrack(t trackData) domain.Track {
	return domain.Track{
		ID:          string(t.ID),
		Title:       t.Title,
		Artist:      t.Artist,
		AlbumTitle:  t.AlbumTitle,
		Genre:       t.Genre,
		ReleaseDate: t.ReleaseDate,
		AlbumCover:  t.AlbumCover,
	}
}
