package proto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMalformed = errors.New("malformed message")

// Change types carried by Delta.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

type Credentials struct {
	Username string
	Password string
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	OwnerID      string
}

type UpsertRequest struct {
	OpID   string
	Kind   string
	ID     string
	Record map[string]any
}

type DeleteRequest struct {
	OpID string
	Kind string
	ID   string
}

// Mutation is one member of a batch. A nil Record is a tombstone.
type Mutation struct {
	Kind   string
	ID     string
	Record map[string]any
}

type BatchRequest struct {
	OpID      string
	Mutations []Mutation
}

type SubscribeRequest struct {
	Kind    string
	OwnerID string
}

type Change struct {
	Type   string
	Record map[string]any
}

// Delta is one message of a Subscribe stream.
type Delta struct {
	Kind     string
	OpID     string
	Snapshot bool
	Changes  []Change
}

func (c Credentials) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"username": c.Username, "password": c.Password})
}

func CredentialsFromStruct(s *structpb.Struct) (Credentials, error) {
	c := Credentials{Username: str(s, "username"), Password: str(s, "password")}
	if c.Username == "" {
		return c, fmt.Errorf("%w: username required", ErrMalformed)
	}
	return c, nil
}

func (t Tokens) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"access_token": t.AccessToken, "refresh_token": t.RefreshToken, "owner_id": t.OwnerID,
	})
}

func TokensFromStruct(s *structpb.Struct) Tokens {
	return Tokens{
		AccessToken:  str(s, "access_token"),
		RefreshToken: str(s, "refresh_token"),
		OwnerID:      str(s, "owner_id"),
	}
}

func (r UpsertRequest) Struct() (*structpb.Struct, error) {
	if r.Record == nil {
		return nil, fmt.Errorf("%w: upsert without record", ErrMalformed)
	}
	return structpb.NewStruct(map[string]any{
		"op_id": r.OpID, "kind": r.Kind, "id": r.ID, "record": r.Record,
	})
}

func UpsertFromStruct(s *structpb.Struct) (UpsertRequest, error) {
	r := UpsertRequest{OpID: str(s, "op_id"), Kind: str(s, "kind"), ID: str(s, "id")}
	rec := s.GetFields()["record"].GetStructValue()
	if r.Kind == "" || r.ID == "" || rec == nil {
		return r, fmt.Errorf("%w: upsert needs kind, id and record", ErrMalformed)
	}
	r.Record = rec.AsMap()
	return r, nil
}

func (r DeleteRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"op_id": r.OpID, "kind": r.Kind, "id": r.ID})
}

func DeleteFromStruct(s *structpb.Struct) (DeleteRequest, error) {
	r := DeleteRequest{OpID: str(s, "op_id"), Kind: str(s, "kind"), ID: str(s, "id")}
	if r.Kind == "" || r.ID == "" {
		return r, fmt.Errorf("%w: delete needs kind and id", ErrMalformed)
	}
	return r, nil
}

func (r BatchRequest) Struct() (*structpb.Struct, error) {
	muts := make([]any, 0, len(r.Mutations))
	for _, m := range r.Mutations {
		entry := map[string]any{"kind": m.Kind, "id": m.ID}
		if m.Record == nil {
			entry["tombstone"] = true
		} else {
			entry["record"] = m.Record
		}
		muts = append(muts, entry)
	}
	return structpb.NewStruct(map[string]any{"op_id": r.OpID, "mutations": muts})
}

func BatchFromStruct(s *structpb.Struct) (BatchRequest, error) {
	r := BatchRequest{OpID: str(s, "op_id")}
	list := s.GetFields()["mutations"].GetListValue().GetValues()
	if len(list) == 0 {
		return r, fmt.Errorf("%w: empty batch", ErrMalformed)
	}
	for i, v := range list {
		ms := v.GetStructValue()
		m := Mutation{Kind: str(ms, "kind"), ID: str(ms, "id")}
		if m.Kind == "" || m.ID == "" {
			return r, fmt.Errorf("%w: mutation %d needs kind and id", ErrMalformed, i)
		}
		if rec := ms.GetFields()["record"].GetStructValue(); rec != nil {
			m.Record = rec.AsMap()
		} else if !ms.GetFields()["tombstone"].GetBoolValue() {
			return r, fmt.Errorf("%w: mutation %d has neither record nor tombstone", ErrMalformed, i)
		}
		r.Mutations = append(r.Mutations, m)
	}
	return r, nil
}

func (r SubscribeRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"kind": r.Kind, "owner_id": r.OwnerID})
}

func SubscribeFromStruct(s *structpb.Struct) (SubscribeRequest, error) {
	r := SubscribeRequest{Kind: str(s, "kind"), OwnerID: str(s, "owner_id")}
	if r.Kind == "" {
		return r, fmt.Errorf("%w: subscribe needs kind", ErrMalformed)
	}
	return r, nil
}

func (d Delta) Struct() (*structpb.Struct, error) {
	changes := make([]any, 0, len(d.Changes))
	for _, c := range d.Changes {
		changes = append(changes, map[string]any{"type": c.Type, "record": c.Record})
	}
	return structpb.NewStruct(map[string]any{
		"kind": d.Kind, "op_id": d.OpID, "snapshot": d.Snapshot, "changes": changes,
	})
}

func DeltaFromStruct(s *structpb.Struct) (Delta, error) {
	d := Delta{
		Kind:     str(s, "kind"),
		OpID:     str(s, "op_id"),
		Snapshot: s.GetFields()["snapshot"].GetBoolValue(),
	}
	for i, v := range s.GetFields()["changes"].GetListValue().GetValues() {
		cs := v.GetStructValue()
		c := Change{Type: str(cs, "type")}
		switch c.Type {
		case ChangeAdded, ChangeModified, ChangeRemoved:
		default:
			return d, fmt.Errorf("%w: change %d has type %q", ErrMalformed, i, c.Type)
		}
		rec := cs.GetFields()["record"].GetStructValue()
		if rec == nil {
			return d, fmt.Errorf("%w: change %d without record", ErrMalformed, i)
		}
		c.Record = rec.AsMap()
		d.Changes = append(d.Changes, c)
	}
	return d, nil
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}
