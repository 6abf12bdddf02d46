package session

import (
	"context"
	"sort"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

// Info is the per-device view handed to account owners.
type Info struct {
	DeviceID   string    `json:"device_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	OS         string    `json:"os"`
	Browser    string    `json:"browser"`
	Location   string    `json:"location,omitempty"`
	Trusted    bool      `json:"trusted"`
	Current    bool      `json:"current"`
	Families   int       `json:"families"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Registry derives device sessions from refresh tokens.
type Registry struct {
	tokens refresh.Store
}

// NewRegistry returns a Registry reading from tokens.
func NewRegistry(tokens refresh.Store) *Registry {
	return &Registry{tokens: tokens}
}

// List returns one Info per device with at least one usable token, most
// recently used first. currentFamily marks the caller's own device.
func (r *Registry) List(ctx context.Context, accountID, currentFamily string, now time.Time) ([]Info, error) {
	tokens, err := r.tokens.TokensByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return Summarize(tokens, currentFamily, now), nil
}

// Known reports whether deviceID has ever been issued a token for accountID.
func (r *Registry) Known(ctx context.Context, accountID, deviceID string) (bool, error) {
	tokens, err := r.tokens.TokensByAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, t := range tokens {
		if t.Device.ID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

// Summarize groups usable tokens by device id.
func Summarize(tokens []refresh.Token, currentFamily string, now time.Time) []Info {
	byDevice := make(map[string]*Info)
	families := make(map[string]map[string]struct{})

	for i := range tokens {
		t := &tokens[i]
		if !t.Usable(now) {
			continue
		}

		info, ok := byDevice[t.Device.ID]
		if !ok {
			info = &Info{
				DeviceID:  t.Device.ID,
				Name:      t.Device.Name,
				Type:      t.Device.Type,
				OS:        t.Device.OS,
				Browser:   t.Device.Browser,
				Location:  t.Device.Location,
				CreatedAt: t.CreatedAt,
			}
			byDevice[t.Device.ID] = info
			families[t.Device.ID] = make(map[string]struct{})
		}

		families[t.Device.ID][t.Family] = struct{}{}
		info.Trusted = info.Trusted || t.Device.Trusted
		info.Current = info.Current || (currentFamily != "" && t.Family == currentFamily)
		if t.CreatedAt.Before(info.CreatedAt) {
			info.CreatedAt = t.CreatedAt
		}
		if t.LastUsedAt.After(info.LastUsedAt) {
			info.LastUsedAt = t.LastUsedAt
		}
		if t.ExpiresAt.After(info.ExpiresAt) {
			info.ExpiresAt = t.ExpiresAt
		}
		if t.Device.Location != "" {
			info.Location = t.Device.Location
		}
	}

	out := make([]Info, 0, len(byDevice))
	for id, info := range byDevice {
		info.Families = len(families[id])
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}
