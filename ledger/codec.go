/*
codec.go - JSON encoding of pending changes for the local journal

PURPOSE:
  The ledger is in-memory, but edits must survive an app restart. The
  sqlite journal stores each entry as a JSON document; the entity type
  discriminates which payload struct to decode into.

  This format is local-only. The synchronized diff's wire format is the
  external budget client's concern, never this package's.

SEE ALSO:
  - store/sqlite: persists and reloads these documents
*/
package ledger

import (
	"encoding/json"
	"time"

	"github.com/harbor/budget-engine/budget"
)

type changeDoc struct {
	ID         budget.ChangeID   `json:"id"`
	EntityType budget.EntityType `json:"entity_type"`
	Action     budget.Action     `json:"action"`
	EntityID   budget.EntityID   `json:"entity_id"`
	EntityName string            `json:"entity_name,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
	Seq        uint64            `json:"seq"`
	Rev        uint64            `json:"rev,omitempty"`
}

// MarshalChange encodes a pending change as a self-describing JSON document.
func MarshalChange(c PendingChange) ([]byte, error) {
	doc := changeDoc{
		ID:         c.ID,
		EntityType: c.EntityType,
		Action:     c.Action,
		EntityID:   c.EntityID,
		EntityName: c.EntityName,
		RecordedAt: c.RecordedAt,
		Seq:        c.Seq,
		Rev:        c.Rev,
	}
	if c.Payload != nil {
		raw, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, err
		}
		doc.Payload = raw
	}
	return json.Marshal(doc)
}

// UnmarshalChange decodes a journal document, restoring the payload to the
// concrete struct matching the entity type.
func UnmarshalChange(data []byte) (PendingChange, error) {
	var doc changeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return PendingChange{}, err
	}

	c := PendingChange{
		ID:         doc.ID,
		EntityType: doc.EntityType,
		Action:     doc.Action,
		EntityID:   doc.EntityID,
		EntityName: doc.EntityName,
		RecordedAt: doc.RecordedAt,
		Seq:        doc.Seq,
		Rev:        doc.Rev,
	}

	if len(doc.Payload) == 0 {
		return c, nil
	}

	payload, err := DecodePayload(doc.EntityType, doc.Payload)
	if err != nil {
		return PendingChange{}, err
	}
	c.Payload = payload
	return c, nil
}

// DecodePayload unmarshals raw JSON into the payload struct matching the
// entity type. Also used by the API layer to decode edit requests.
func DecodePayload(t budget.EntityType, raw []byte) (Payload, error) {
	payload, err := emptyPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, budget.Invalid("payload", err.Error())
	}
	return payload, nil
}

func emptyPayload(t budget.EntityType) (Payload, error) {
	switch t {
	case budget.EntityAccount:
		return &AccountFields{}, nil
	case budget.EntityCategory:
		return &CategoryFields{}, nil
	case budget.EntityPayee:
		return &PayeeFields{}, nil
	case budget.EntityTransaction:
		return &TransactionFields{}, nil
	case budget.EntityBudgetLine:
		return &BudgetLineFields{}, nil
	}
	return nil, budget.Invalid("entityType", "unknown: "+string(t))
}
