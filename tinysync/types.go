package tinysync

import (
	"encoding/json"
	"time"
)

// ModuleKind names one Tiny module the sync can pull.
type ModuleKind string

const (
	ModuleOrders    ModuleKind = "orders"
	ModuleInvoices  ModuleKind = "invoices"
	ModuleFinancial ModuleKind = "financial"
)

const DefaultSyncFrequencyMinutes = 1440

func DefaultModules() []ModuleKind {
	return []ModuleKind{ModuleOrders}
}

func ValidModule(m ModuleKind) bool {
	switch m {
	case ModuleOrders, ModuleInvoices, ModuleFinancial:
		return true
	}
	return false
}

// NormalizeModules drops unknown names and falls back to the default set.
func NormalizeModules(modules []ModuleKind) []ModuleKind {
	var out []ModuleKind
	for _, m := range modules {
		if ValidModule(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return DefaultModules()
	}
	return out
}

func DecodeModules(raw []byte) []ModuleKind {
	if len(raw) == 0 {
		return DefaultModules()
	}
	var modules []ModuleKind
	if err := json.Unmarshal(raw, &modules); err != nil {
		return DefaultModules()
	}
	return NormalizeModules(modules)
}

func EncodeModules(modules []ModuleKind) []byte {
	b, _ := json.Marshal(NormalizeModules(modules))
	return b
}

func ComputeNextSync(frequencyMinutes int, reference time.Time) time.Time {
	if frequencyMinutes <= 0 {
		frequencyMinutes = DefaultSyncFrequencyMinutes
	}
	return reference.Add(time.Duration(frequencyMinutes) * time.Minute)
}

type ConfigRequest struct {
	Token         string       `json:"token" validate:"required"`
	Modules       []ModuleKind `json:"modules"`
	Enabled       *bool        `json:"enabled"`
	SyncFrequency int          `json:"syncFrequency" validate:"gte=0,lte=10080"`
}

type SyncRequest struct {
	Token    string       `json:"token"`
	Modules  []ModuleKind `json:"modules"`
	From     string       `json:"from"`
	PageSize int          `json:"pageSize"`
}

type StatusResponse struct {
	TenantId      string       `json:"tenantId"`
	Configured    bool         `json:"configured"`
	Enabled       bool         `json:"enabled"`
	Modules       []ModuleKind `json:"modules"`
	SyncFrequency int          `json:"syncFrequency"`
	LastSyncAt    *string      `json:"lastSyncAt"`
	NextSyncAt    *string      `json:"nextSyncAt"`
}

// SyncOptions drives one tenant's fetch -> map -> reconcile cycle.
type SyncOptions struct {
	TenantId string
	Token    string
	Modules  []ModuleKind
	// UpdateFrom is the date-range lower bound (YYYY-MM-DD), normally the
	// previous lastSyncAt. Empty on the first run.
	UpdateFrom string
	PageSize   int
}

type ModuleResult struct {
	Module    ModuleKind `json:"module"`
	Pulled    int        `json:"pulled"`
	Persisted int        `json:"persisted"`
	Error     string     `json:"error,omitempty"`
}

type SyncSummary struct {
	TenantId string         `json:"tenantId"`
	SyncedAt time.Time      `json:"syncedAt"`
	Results  []ModuleResult `json:"results"`
}
