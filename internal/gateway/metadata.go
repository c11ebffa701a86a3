package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

const (
	metaOrderID    = "order_id"
	metaDraftParts = "draft_parts"
	metaDraftPart  = "draft_"

	// Stripe caps metadata at 50 keys of at most 500 characters each.
	metadataValueLimit = 500
	metadataMaxParts   = 48
)

// EncodeDraft spreads the JSON form of the draft over as many metadata values
// as it needs.
func EncodeDraft(d domain.OrderDraft) (map[string]string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("EncodeDraft: %w", err)
	}

	chunks := chunk(string(raw), metadataValueLimit)
	if len(chunks) > metadataMaxParts {
		return nil, fmt.Errorf("EncodeDraft: order too large for gateway metadata: %w", domain.ErrValidation)
	}

	md := map[string]string{
		metaOrderID:    d.OrderID.String(),
		metaDraftParts: strconv.Itoa(len(chunks)),
	}
	for i, c := range chunks {
		md[metaDraftPart+strconv.Itoa(i)] = c
	}
	return md, nil
}

// DecodeDraft reassembles a draft written by EncodeDraft. It returns nil, nil
// when the metadata carries no draft.
func DecodeDraft(md map[string]string) (*domain.OrderDraft, error) {
	n, ok := md[metaDraftParts]
	if !ok {
		return nil, nil
	}
	parts, err := strconv.Atoi(n)
	if err != nil || parts <= 0 || parts > metadataMaxParts {
		return nil, fmt.Errorf("DecodeDraft: bad %s %q", metaDraftParts, n)
	}

	var b strings.Builder
	for i := 0; i < parts; i++ {
		chunk, ok := md[metaDraftPart+strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("DecodeDraft: missing part %d of %d", i, parts)
		}
		b.WriteString(chunk)
	}

	var d domain.OrderDraft
	if err := json.Unmarshal([]byte(b.String()), &d); err != nil {
		return nil, fmt.Errorf("DecodeDraft: %w", err)
	}
	return &d, nil
}

// chunk splits s into pieces of at most size bytes without cutting a rune.
func chunk(s string, size int) []string {
	var out []string
	for len(s) > size {
		end := size
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func orderIDFromMetadata(md map[string]string) *uuid.UUID {
	v, ok := md[metaOrderID]
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil
	}
	return &id
}
