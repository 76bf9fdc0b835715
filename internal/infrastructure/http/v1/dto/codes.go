package dto

import (
	"time"

	"codealloc/internal/domain/allocation"
)

// --- Request DTOs ---

// AllocateRequest is the request body for POST /codes/allocate.
type AllocateRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// AllocateBatchRequest is the request body for POST /codes/allocate-batch.
type AllocateBatchRequest struct {
	Kind  string `json:"kind" binding:"required"`
	Count uint64 `json:"count" binding:"required"`
}

// ValidateRequest is the request body for POST /codes/validate.
type ValidateRequest struct {
	Code string `json:"code" binding:"required"`
	Kind string `json:"kind" binding:"required"`
	// ManufacturerDigits splits a UPC that was not issued under the
	// current manufacturer code.
	ManufacturerDigits int `json:"manufacturerDigits,omitempty"`
}

// --- Response DTOs ---

// CodeResponse is an issued code.
type CodeResponse struct {
	Code           string    `json:"code"`
	SequenceKey    string    `json:"sequenceKey"`
	SequenceNumber uint64    `json:"sequenceNumber"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// FromAllocatedCode converts a domain code to its response.
func FromAllocatedCode(c allocation.AllocatedCode) CodeResponse {
	return CodeResponse{
		Code:           c.Value,
		SequenceKey:    c.SequenceKey.String(),
		SequenceNumber: c.SequenceNumber,
		IssuedAt:       c.IssuedAt,
	}
}

// BatchResponse is the response of POST /codes/allocate-batch.
type BatchResponse struct {
	SequenceKey string         `json:"sequenceKey"`
	First       uint64         `json:"first"`
	Count       int            `json:"count"`
	Codes       []CodeResponse `json:"codes"`
}

// FromAllocatedBatch converts a reserved batch to its response.
func FromAllocatedBatch(codes []allocation.AllocatedCode) BatchResponse {
	out := BatchResponse{Codes: make([]CodeResponse, len(codes)), Count: len(codes)}
	for i, c := range codes {
		out.Codes[i] = FromAllocatedCode(c)
	}
	if len(codes) > 0 {
		out.SequenceKey = codes[0].SequenceKey.String()
		out.First = codes[0].SequenceNumber
	}
	return out
}

// ValidateResponse tells whether a code is well formed.
// A valid code also reports the sequence it belongs to when that can be
// determined.
type ValidateResponse struct {
	Code           string `json:"code"`
	Kind           string `json:"kind"`
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	SequenceKey    string `json:"sequenceKey,omitempty"`
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`
}
