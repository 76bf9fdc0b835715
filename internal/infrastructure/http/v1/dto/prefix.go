package dto

import (
	"time"

	"codealloc/internal/core/code"
	"codealloc/internal/infrastructure/storage/postgres"
)

// UpdatePrefixRequest is the request body for PUT /admin/prefixes/:kind.
type UpdatePrefixRequest struct {
	CountryCode      string `json:"countryCode"`
	RegistrantCode   string `json:"registrantCode"`
	ManufacturerCode string `json:"manufacturerCode"`
	Reason           string `json:"reason" binding:"required"`
}

// ToFields converts the request to prefix fields.
func (r *UpdatePrefixRequest) ToFields() code.PrefixFields {
	return code.PrefixFields{
		CountryCode:      r.CountryCode,
		RegistrantCode:   r.RegistrantCode,
		ManufacturerCode: r.ManufacturerCode,
	}
}

// PrefixResponse is a prefix configuration.
type PrefixResponse struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Prefix           string     `json:"prefix"`
	CountryCode      string     `json:"countryCode,omitempty"`
	RegistrantCode   string     `json:"registrantCode,omitempty"`
	ManufacturerCode string     `json:"manufacturerCode,omitempty"`
	Period           string     `json:"period"`
	SequenceKey      string     `json:"sequenceKey"`
	Version          int        `json:"version"`
	LastSequence     *uint64    `json:"lastSequence,omitempty"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	SupersededAt     *time.Time `json:"supersededAt,omitempty"`
}

// FromPrefixConfig converts a prefix config to its response. LastSequence is
// included only when withLast is set, since history rows do not carry it.
func FromPrefixConfig(cfg code.PrefixConfig, withLast bool) PrefixResponse {
	out := PrefixResponse{
		ID:               cfg.ID.String(),
		Kind:             string(cfg.Kind),
		Prefix:           cfg.Prefix(),
		CountryCode:      cfg.CountryCode,
		RegistrantCode:   cfg.RegistrantCode,
		ManufacturerCode: cfg.ManufacturerCode,
		Period:           cfg.Period,
		SequenceKey:      cfg.Key().String(),
		Version:          cfg.Version,
		CreatedBy:        cfg.CreatedBy,
		Reason:           cfg.Reason,
		CreatedAt:        cfg.CreatedAt,
		SupersededAt:     cfg.SupersededAt,
	}
	if withLast {
		last := cfg.LastSequence
		out.LastSequence = &last
	}
	return out
}

// SequenceResponse is the state of one counter.
type SequenceResponse struct {
	SequenceKey  string `json:"sequenceKey"`
	LastSequence uint64 `json:"lastSequence"`
}

// AdvanceSequenceRequest is the request body for PUT /admin/sequences.
type AdvanceSequenceRequest struct {
	SequenceKey  string `json:"sequenceKey" binding:"required"`
	LastSequence uint64 `json:"lastSequence"`
}

// AuditEntryResponse is one audit log row.
type AuditEntryResponse = postgres.AuditEntry
