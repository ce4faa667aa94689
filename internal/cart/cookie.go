package cart

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CookieName is the client-side cart cookie for guests
const CookieName = "cart"

// CookieMaxAge keeps the guest cart for two weeks
const CookieMaxAge = 14 * 24 * 60 * 60

// DecodeBlob parses a base64 cookie value into cart entries.
// The blob is a JSON array, so first-add order survives the round trip.
func DecodeBlob(blob string) ([]Entry, error) {
	if blob == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode cart blob: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal cart blob: %w", err)
	}
	return entries, nil
}

// EncodeBlob serializes cart entries into a base64 cookie value
func EncodeBlob(entries []Entry) (string, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal cart blob: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// CookieStore is the guest backing. It mutates a decoded copy of the
// cookie blob; the handler writes Blob() back on the response.
type CookieStore struct {
	entries []Entry
}

// NewCookieStore decodes the request cookie value. An empty value yields
// an empty cart.
func NewCookieStore(blob string) (*CookieStore, error) {
	entries, err := DecodeBlob(blob)
	if err != nil {
		return nil, err
	}
	return &CookieStore{entries: entries}, nil
}

// Blob encodes the current state for the response cookie
func (s *CookieStore) Blob() (string, error) {
	return EncodeBlob(s.entries)
}

// Empty reports whether the cart has no entries
func (s *CookieStore) Empty() bool {
	return len(s.entries) == 0
}

func (s *CookieStore) List(_ context.Context) ([]Entry, error) {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *CookieStore) Add(_ context.Context, e Entry) error {
	for i := range s.entries {
		if s.entries[i].SKUID == e.SKUID {
			s.entries[i].Quantity += e.Quantity
			s.entries[i].Selected = e.Selected
			return nil
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *CookieStore) Set(_ context.Context, e Entry) error {
	for i := range s.entries {
		if s.entries[i].SKUID == e.SKUID {
			s.entries[i] = e
			return nil
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *CookieStore) Remove(_ context.Context, skuID int64) error {
	for i := range s.entries {
		if s.entries[i].SKUID == skuID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *CookieStore) Clear(ctx context.Context, skuIDs []int64) error {
	for _, id := range skuIDs {
		if err := s.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
