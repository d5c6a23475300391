package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zsprackett/tokengauge/internal/usage"
)

type payload struct {
	Provider string        `json:"provider"`
	Version  string        `json:"version"`
	Source   string        `json:"source"`
	Usage    *payloadUsage `json:"usage"`
	Credits  *struct {
		Remaining *float64 `json:"remaining"`
	} `json:"credits"`
	Error *payloadError `json:"error"`
}

type payloadUsage struct {
	Primary   *payloadWindow `json:"primary"`
	Secondary *payloadWindow `json:"secondary"`
	UpdatedAt timestamp      `json:"updatedAt"`
}

type payloadWindow struct {
	UsedPercent      *float64  `json:"usedPercent"`
	UsedTokens       *float64  `json:"usedTokens"`
	LimitTokens      *float64  `json:"limitTokens"`
	WindowMinutes    int       `json:"windowMinutes"`
	ResetsAt         timestamp `json:"resetsAt"`
	ResetDescription string    `json:"resetDescription"`
}

type payloadError struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
}

// timestamp accepts RFC3339 strings or Unix seconds.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		t.Time = parseResetsAt(str)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", s, err)
	}
	if secs > 0 {
		t.Time = time.Unix(int64(secs), 0).UTC()
	}
	return nil
}

// parseResetsAt converts an RFC3339 timestamp string to UTC time.
// Returns the zero time on parse failure.
func parseResetsAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

// parsePayloads decodes the tool output, which is either a single payload
// object or an array of them.
func parsePayloads(b []byte) ([]payload, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty output")
	}
	switch b[0] {
	case '[':
		var list []payload
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse payload list: %w", err)
		}
		return list, nil
	case '{':
		var p payload
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
		return []payload{p}, nil
	default:
		return nil, errors.New("output was not JSON")
	}
}

func pick(payloads []payload, id usage.ProviderID) (payload, bool) {
	for _, p := range payloads {
		if usage.ProviderID(p.Provider) == id {
			return p, true
		}
	}
	// A single unlabeled payload is assumed to be the requested provider.
	if len(payloads) == 1 && payloads[0].Provider == "" {
		return payloads[0], true
	}
	return payload{}, false
}

func (p payload) snapshot() (usage.Snapshot, error) {
	snap := usage.Snapshot{
		FetchStatus: usage.StatusOK,
		Source:      p.Source,
		Version:     p.Version,
		Windows:     make(map[usage.Window]usage.Quota),
	}
	if p.Credits != nil && p.Credits.Remaining != nil {
		snap.Credits = usage.Ptr(nonNegative(*p.Credits.Remaining))
	}
	if p.Usage != nil {
		snap.UpdatedAt = p.Usage.UpdatedAt.Time
		if q, ok := p.Usage.Primary.quota(usage.Daily); ok {
			snap.Windows[usage.Daily] = q
		}
		if q, ok := p.Usage.Secondary.quota(usage.Weekly); ok {
			snap.Windows[usage.Weekly] = q
		}
	}
	if len(snap.Windows) == 0 && snap.Credits == nil {
		return usage.Snapshot{}, errors.New("payload has no usage windows")
	}
	return snap, nil
}

func (w *payloadWindow) quota(window usage.Window) (usage.Quota, bool) {
	if w == nil {
		return usage.Quota{}, false
	}
	q := usage.Quota{
		Window:           window,
		ResetAt:          w.ResetsAt.Time,
		ResetDescription: w.ResetDescription,
		WindowMinutes:    w.WindowMinutes,
	}
	switch {
	case w.UsedTokens != nil:
		q.Used = nonNegative(*w.UsedTokens)
		if w.LimitTokens != nil {
			q.Limit = usage.Ptr(nonNegative(*w.LimitTokens))
		}
	case w.UsedPercent != nil:
		q.Used = nonNegative(*w.UsedPercent)
		q.Limit = usage.Ptr(100.0)
	default:
		return usage.Quota{}, false
	}
	return q, true
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
