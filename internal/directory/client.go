// Package directory fetches citizen records from the municipal registry.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
)

// maxBodySize caps registry responses.
const maxBodySize = 1 << 20

const defaultTimeout = 10 * time.Second

// Errors wrap auth.ErrUpstream so callers can treat every registry failure alike.
var (
	// ErrRequestFailed covers transport errors and non-2xx responses.
	ErrRequestFailed = fmt.Errorf("citizen directory request failed: %w", auth.ErrUpstream)

	// ErrParseFailed covers bodies that are not a usable citizen record.
	ErrParseFailed = fmt.Errorf("citizen directory response invalid: %w", auth.ErrUpstream)
)

// Address is the postal address part of a citizen record. Every field is optional.
type Address struct {
	Street      *string `json:"street,omitempty"`
	Housenumber *string `json:"housenumber,omitempty"`
	CityCode    *uint32 `json:"city_code,omitempty"`
	City        *string `json:"city,omitempty"`
}

// Profile is a citizen record as served by GET /api/citizen/{id}.
type Profile struct {
	Firstname    string   `json:"firstname"`
	Lastname     string   `json:"lastname"`
	Gender       *string  `json:"gender,omitempty"`
	Birthdate    *string  `json:"birthdate,omitempty"`
	PlaceOfBirth *string  `json:"place_of_birth,omitempty"`
	Birthname    *string  `json:"birthname,omitempty"`
	Email        *string  `json:"email,omitempty"`
	SpouseID     *uint64  `json:"spouse_id,omitempty"`
	ChildIDs     []uint64 `json:"child_ids,omitempty"`
	Address      Address  `json:"address"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	return p.Firstname + " " + p.Lastname
}

// EmailAddress returns the email when the record carries a non-blank one.
func (p *Profile) EmailAddress() (string, bool) {
	if p.Email == nil || strings.TrimSpace(*p.Email) == "" {
		return "", false
	}
	return strings.TrimSpace(*p.Email), true
}

// Client talks to the citizen registry over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the configured registry.
func New(cfg config.DirectoryConfig) *Client {
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetProfile fetches the record for citizenID.
func (c *Client) GetProfile(ctx context.Context, citizenID int64) (*Profile, error) {
	endpoint, err := url.JoinPath(c.baseURL, "api", "citizen", strconv.FormatInt(citizenID, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: building url: %w", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrRequestFailed, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck // draining for reuse
		return nil, fmt.Errorf("%w: citizen %d: status %d", ErrRequestFailed, citizenID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrParseFailed, maxBodySize)
	}

	return parseProfile(body)
}

func parseProfile(body []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: malformed json at offset %d", ErrParseFailed, syntaxErr.Offset)
		}
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if strings.TrimSpace(p.Firstname) == "" || strings.TrimSpace(p.Lastname) == "" {
		return nil, fmt.Errorf("%w: firstname and lastname are required", ErrParseFailed)
	}
	return &p, nil
}
