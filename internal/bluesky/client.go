// Package bluesky is the XRPC client for the social network hosting the
// mirrored newsletter accounts.
package bluesky

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

const (
	createSessionPath  = "/xrpc/com.atproto.server.createSession"
	createAccountPath  = "/xrpc/com.atproto.server.createAccount"
	deleteAccountPath  = "/xrpc/com.atproto.admin.deleteAccount"
	createRecordPath   = "/xrpc/com.atproto.repo.createRecord"
	putRecordPath      = "/xrpc/com.atproto.repo.putRecord"
	uploadBlobPath     = "/xrpc/com.atproto.repo.uploadBlob"
	resolveHandlePath  = "/xrpc/com.atproto.identity.resolveHandle?handle=%s"
	getListPath        = "/xrpc/app.bsky.graph.getList?list=%s&limit=%d"
	getProfilePath     = "/xrpc/app.bsky.actor.getProfile?actor=%s"
	searchActorsPath   = "/xrpc/app.bsky.actor.searchActors?q=%s&limit=%d"
	defaultAPITimeout  = 30 * time.Second
	imageUploadTimeout = 10 * time.Second
	maxPostTextLength  = 300
)

// Session is an authenticated session for one account.
type Session struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	AccessJWT string `json:"accessJwt"`
}

// Blob is an uploaded image reference embeddable in records.
type Blob = json.RawMessage

// Client talks to a PDS over XRPC.
type Client struct {
	httpClient    *http.Client
	pdsURL        string
	handleSuffix  string
	accountSecret string
	logger        logger.Logger
}

// NewClient creates a PDS client. handleSuffix is appended to short ids to
// form account handles; accountSecret derives per-account passwords.
func NewClient(pdsURL, handleSuffix, accountSecret string, log logger.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: defaultAPITimeout},
		pdsURL:        strings.TrimSuffix(pdsURL, "/"),
		handleSuffix:  handleSuffix,
		accountSecret: accountSecret,
		logger:        log,
	}
}

// Handle returns the account handle for a newsletter short id.
func (c *Client) Handle(shortID string) string {
	return shortID + c.handleSuffix
}

// AccountPassword derives the deterministic password for a short id, so the
// service can re-authenticate without storing credentials.
func (c *Client) AccountPassword(shortID string) string {
	mac := hmac.New(sha256.New, []byte(c.accountSecret))
	mac.Write([]byte(shortID))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// CreateAccount registers a new account and returns its DID.
func (c *Client) CreateAccount(ctx context.Context, shortID string) (string, error) {
	handle := c.Handle(shortID)
	payload := map[string]string{
		"handle":   handle,
		"email":    shortID + "@" + strings.TrimPrefix(c.handleSuffix, "."),
		"password": c.AccountPassword(shortID),
	}

	var resp struct {
		DID string `json:"did"`
	}
	if err := c.postJSON(ctx, createAccountPath, "", payload, &resp); err != nil {
		return "", fmt.Errorf("create account %s: %w", handle, err)
	}

	c.logger.Info("account created",
		logger.String("handle", handle),
		logger.String("did", resp.DID))
	return resp.DID, nil
}

// DeleteAccount removes an account by DID using the admin credential.
func (c *Client) DeleteAccount(ctx context.Context, did, adminPassword string) error {
	payload := map[string]string{"did": did}

	req, err := c.newRequest(ctx, deleteAccountPath, payload)
	if err != nil {
		return err
	}
	req.SetBasicAuth("admin", adminPassword)

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete account %s: %w", did, err)
	}
	c.logger.Info("account deleted", logger.String("did", did))
	return nil
}

// Login opens a session for a newsletter account.
func (c *Client) Login(ctx context.Context, shortID string) (*Session, error) {
	return c.login(ctx, c.Handle(shortID), c.AccountPassword(shortID))
}

// LoginAs opens a session with explicit credentials, e.g. the service's own
// curation account.
func (c *Client) LoginAs(ctx context.Context, identifier, password string) (*Session, error) {
	return c.login(ctx, identifier, password)
}

func (c *Client) login(ctx context.Context, identifier, password string) (*Session, error) {
	payload := map[string]string{"identifier": identifier, "password": password}

	var session Session
	if err := c.postJSON(ctx, createSessionPath, "", payload, &session); err != nil {
		return nil, fmt.Errorf("create session for %s: %w", identifier, err)
	}
	return &session, nil
}

// ResolveHandle resolves a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var resp struct {
		DID string `json:"did"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf(resolveHandlePath, handle), "", &resp); err != nil {
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("%w: handle %s", domain.ErrNotFound, handle)
	}
	return resp.DID, nil
}

// UpdateProfile writes the account's display name, description, and avatar.
func (c *Client) UpdateProfile(ctx context.Context, session *Session, displayName, description string, avatar Blob) error {
	record := map[string]any{
		"$type":       "app.bsky.actor.profile",
		"displayName": displayName,
		"description": description,
	}
	if avatar != nil {
		record["avatar"] = avatar
	}

	payload := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.actor.profile",
		"rkey":       "self",
		"record":     record,
	}
	if err := c.postJSON(ctx, putRecordPath, session.AccessJWT, payload, nil); err != nil {
		return fmt.Errorf("update profile for %s: %w", session.Handle, err)
	}
	return nil
}

// UploadImage fetches an image URL and uploads it as a blob. Fetch failures
// and slow hosts degrade to a nil blob rather than failing the caller.
func (c *Client) UploadImage(ctx context.Context, session *Session, imageURL string) Blob {
	if imageURL == "" {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, imageUploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Warn("image fetch failed, posting without image",
			logger.String("image_url", imageURL))
		return nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}

	upReq, err := http.NewRequestWithContext(fetchCtx, http.MethodPost, c.pdsURL+uploadBlobPath, bytes.NewReader(data))
	if err != nil {
		return nil
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	upReq.Header.Set("Content-Type", contentType)
	upReq.Header.Set("Authorization", "Bearer "+session.AccessJWT)

	var uploaded struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := c.do(upReq, &uploaded); err != nil {
		c.logger.Warn("blob upload failed, posting without image",
			logger.String("image_url", imageURL),
			logger.Error(err))
		return nil
	}
	return Blob(uploaded.Blob)
}

// CreateLinkPost publishes one archive item as a link-card post, backdated to
// the item's publication time.
func (c *Client) CreateLinkPost(ctx context.Context, session *Session, item domain.PostItem) error {
	text := item.Title
	if item.Subtitle != "" {
		text = item.Title + "\n\n" + item.Subtitle
	}
	if utf8.RuneCountInString(text) > maxPostTextLength {
		runes := []rune(text)
		text = string(runes[:maxPostTextLength-1]) + "…"
	}

	external := map[string]any{
		"uri":         item.Link,
		"title":       item.Title,
		"description": item.Subtitle,
	}
	if thumb := c.UploadImage(ctx, session, item.ThumbnailURL); thumb != nil {
		external["thumb"] = thumb
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": item.PostDate.UTC().Format(time.RFC3339),
		"embed": map[string]any{
			"$type":    "app.bsky.embed.external",
			"external": external,
		},
	}
	if len(item.Labels) > 0 {
		record["tags"] = item.Labels
	}

	payload := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}
	if err := c.postJSON(ctx, createRecordPath, session.AccessJWT, payload, nil); err != nil {
		return fmt.Errorf("create post %d for %s: %w", item.ID, session.Handle, err)
	}
	return nil
}

// Follow makes the session's account follow the subject DID.
func (c *Client) Follow(ctx context.Context, session *Session, subjectDID string) error {
	payload := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.graph.follow",
		"record": map[string]any{
			"$type":     "app.bsky.graph.follow",
			"subject":   subjectDID,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := c.postJSON(ctx, createRecordPath, session.AccessJWT, payload, nil); err != nil {
		return fmt.Errorf("follow %s as %s: %w", subjectDID, session.Handle, err)
	}
	return nil
}

// AddToList appends a DID to a curation list owned by the session's account.
func (c *Client) AddToList(ctx context.Context, session *Session, listURI, subjectDID string) error {
	payload := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.graph.listitem",
		"record": map[string]any{
			"$type":     "app.bsky.graph.listitem",
			"subject":   subjectDID,
			"list":      listURI,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := c.postJSON(ctx, createRecordPath, session.AccessJWT, payload, nil); err != nil {
		return fmt.Errorf("add %s to list %s: %w", subjectDID, listURI, err)
	}
	return nil
}

// ListMembers returns the handles currently on a curation list, following
// the cursor until the list is exhausted.
func (c *Client) ListMembers(ctx context.Context, session *Session, listURI string) ([]string, error) {
	const pageSize = 100

	var handles []string
	cursor := ""
	for {
		var resp struct {
			Cursor string `json:"cursor"`
			Items  []struct {
				Subject struct {
					Handle string `json:"handle"`
				} `json:"subject"`
			} `json:"items"`
		}
		path := fmt.Sprintf(getListPath, listURI, pageSize)
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		if err := c.getJSON(ctx, path, session.AccessJWT, &resp); err != nil {
			return nil, fmt.Errorf("get list %s: %w", listURI, err)
		}

		for _, item := range resp.Items {
			handles = append(handles, item.Subject.Handle)
		}
		if resp.Cursor == "" || len(resp.Items) == 0 {
			return handles, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) newRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pdsURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path, accessJWT string, payload, dest any) error {
	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return err
	}
	if accessJWT != "" {
		req.Header.Set("Authorization", "Bearer "+accessJWT)
	}
	return c.do(req, dest)
}

func (c *Client) getJSON(ctx context.Context, path, accessJWT string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pdsURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if accessJWT != "" {
		req.Header.Set("Authorization", "Bearer "+accessJWT)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var xrpcErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&xrpcErr)
		if xrpcErr.Error != "" {
			return fmt.Errorf("xrpc %s: %s (status %d)", xrpcErr.Error, xrpcErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("xrpc status %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
