package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/kv"
)

// manifestRequestsKey and fpDevicePrefix are the KV keys backing the
// two manager endpoints: a capped, newest-first request log and the
// set of recorded device fingerprints.
const manifestRequestsKey = "manager:requests"
const fpDevicePrefix = "fp:dev:"
const requestLogCap = 500

// RequestRecord is one entry in the manager request log.
type RequestRecord struct {
	Timestamp int64  `json:"timestamp"`
	RemoteIP  string `json:"remoteIp"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
}

// ManagerService backs the two manager/* endpoints.
type ManagerService struct {
	Store kv.Store
}

// NewManagerService builds a ManagerService.
func NewManagerService(store kv.Store) *ManagerService {
	return &ManagerService{Store: store}
}

// RecordRequest appends a RequestRecord to the manager:requests log,
// newest first, capped at 500 entries.
func (m *ManagerService) RecordRequest(ctx context.Context, rec RequestRecord) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := m.Store.LPush(ctx, manifestRequestsKey, encoded); err != nil {
		return
	}
	_ = m.Store.LTrim(ctx, manifestRequestsKey, requestLogCap)
}

// RequestsPage is the response shape of GET /manager/requests.
type RequestsPage struct {
	Requests []RequestRecord `json:"requests"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
}

// Requests implements GET /manager/requests.
func (m *ManagerService) Requests(ctx context.Context, page, limit int) (*RequestsPage, *apierr.Error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	total, err := m.Store.LLen(ctx, manifestRequestsKey)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("services: request log length: %w", err))
	}
	start := (page - 1) * limit
	raw, err := m.Store.LRange(ctx, manifestRequestsKey, start, limit)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("services: request log range: %w", err))
	}
	out := make([]RequestRecord, 0, len(raw))
	for _, b := range raw {
		var rec RequestRecord
		if json.Unmarshal(b, &rec) == nil {
			out = append(out, rec)
		}
	}
	return &RequestsPage{Requests: out, Total: total, Page: page, Limit: limit}, nil
}

// DeviceRecord is the shape persisted under fp:dev:{visitorId}.
type DeviceRecord struct {
	VisitorID string    `json:"visitorId"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// RecordDevice upserts a device's last-seen timestamp under
// fp:dev:{visitorId} with a 90-day TTL.
func (m *ManagerService) RecordDevice(ctx context.Context, visitorID string) *apierr.Error {
	now := time.Now()
	key := fpDevicePrefix + visitorID
	rec := DeviceRecord{VisitorID: visitorID, FirstSeen: now, LastSeen: now}
	if existing, err := m.Store.Get(ctx, key); err == nil {
		var prev DeviceRecord
		if json.Unmarshal(existing, &prev) == nil {
			rec.FirstSeen = prev.FirstSeen
		}
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return apierr.New(apierr.KindInternal, err)
	}
	if err := m.Store.Set(ctx, key, encoded, 90*24*time.Hour); err != nil {
		return apierr.New(apierr.KindInternal, fmt.Errorf("services: persist device record: %w", err))
	}
	return nil
}

// Fingerprints implements GET /manager/fingerprints: scans every
// fp:dev:{visitorId} key and decodes its record.
func (m *ManagerService) Fingerprints(ctx context.Context) ([]DeviceRecord, *apierr.Error) {
	keys, err := m.Store.Scan(ctx, fpDevicePrefix)
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("services: scan device records: %w", err))
	}
	out := make([]DeviceRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := m.Store.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec DeviceRecord
		if json.Unmarshal(raw, &rec) != nil {
			continue
		}
		rec.VisitorID = strings.TrimPrefix(key, fpDevicePrefix)
		out = append(out, rec)
	}
	return out, nil
}
