package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/services"
)

// Add creates one record, or several joined by "+" in one batch:
//
//	add weighings id=W1 animalId=A1 kg=31.5
//	add animals id=A1 name=Luna + weighings animalId=A1 kg=31.5
//
// An id field picks the record id instead of a generated one.
func (a *App) Add(ctx context.Context, args []string) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	drafts, err := parseDrafts(args)
	if err != nil {
		return err
	}
	ids, err := e.Entities().AddWithSecondary(ctx, drafts[0], drafts[1:]...)
	if err != nil {
		return err
	}
	for i, id := range ids {
		printlnFn(fmt.Sprintf("Added %s/%s", drafts[i].Kind, id))
	}
	return nil
}

func parseDrafts(args []string) ([]services.Draft, error) {
	var (
		drafts []services.Draft
		group  []string
	)
	flush := func() error {
		if len(group) == 0 {
			return fmt.Errorf("usage: add <kind> [id=<id>] name=value ... [+ <kind> ...]")
		}
		payload, err := ParseFields(group[1:])
		if err != nil {
			return err
		}
		d := services.Draft{Kind: group[0], Payload: payload}
		if id, ok := payload["id"]; ok {
			d.ID = fmt.Sprint(id)
			delete(payload, "id")
		}
		drafts = append(drafts, d)
		group = nil
		return nil
	}
	for _, arg := range args {
		if arg == "+" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		group = append(group, arg)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return drafts, nil
}

// Update merges fields into a record. A field set to null becomes an explicit null.
func (a *App) Update(ctx context.Context, args []string) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: update <kind> <id> name=value ...")
	}
	partial, err := ParseFields(args[2:])
	if err != nil {
		return err
	}
	rec, err := e.Entities().UpdateEntity(ctx, args[0], args[1], partial)
	if err != nil {
		return err
	}
	printRecord(args[0], rec)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <kind> <id>")
	}
	if err := e.Entities().DeleteEntity(ctx, args[0], args[1]); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Deleted %s/%s", args[0], args[1]))
	return nil
}

func (a *App) Get(ctx context.Context, args []string) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: get <kind> <id>")
	}
	rec, err := e.Entities().Get(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	printRecord(args[0], rec)
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: list <kind>")
	}
	recs, err := e.Entities().List(ctx, args[0])
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		printlnFn("No records")
		return nil
	}
	for _, r := range recs {
		printRecord(args[0], r)
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Status: %s, pending: %d", e.Status(), len(e.Pending())))
	return nil
}

// Pending lists the queued operations and the parked ones.
func (a *App) Pending(ctx context.Context) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	items := e.Pending()
	parked, err := e.Parked(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 && len(parked) == 0 {
		printlnFn("Nothing pending")
		return nil
	}
	for _, it := range items {
		printlnFn(fmt.Sprintf("queued  %s %s", it.Op.Type, describeKeys(it.Op)))
	}
	for _, op := range parked {
		printlnFn(fmt.Sprintf("parked  %s %s", op.Type, describeKeys(op)))
	}
	return nil
}

// Retry triggers a reconcile sweep now.
func (a *App) Retry(ctx context.Context) error {
	e, err := a.requireSession()
	if err != nil {
		return err
	}
	n, err := e.Sweep(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Re-enqueued %d operation(s)", n))
	return nil
}

func describeKeys(op models.Operation) string {
	keys := op.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ", ")
}

func printRecord(kind string, r *models.Record) {
	names := make([]string, 0, len(r.Payload))
	for k := range r.Payload {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, k := range names {
		b, _ := json.Marshal(r.Payload[k])
		fields = append(fields, k+"="+string(b))
	}
	mark := "synced"
	if !r.Synced {
		mark = "pending"
	}
	printlnFn(fmt.Sprintf("%s/%s [%s] %s", kind, r.ID, mark, strings.Join(fields, " ")))
}
