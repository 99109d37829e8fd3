package repository

import (
	"context"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type duplicateCases struct {
	db bun.IDB
}

var _ federation.DuplicateCaseStore = (*duplicateCases)(nil)

func (d *duplicateCases) RecordOrUpdate(ctx context.Context, provider federation.Provider, providerUID, nationalID string, candidateIDs []string) (*federation.DuplicateCase, error) {
	key := openKey(provider, providerUID)
	now := time.Now().UTC()

	existing, err := d.findOpen(ctx, *key)
	if err != nil {
		return nil, err
	}

	record := &DuplicateCaseModel{
		ID:           uuid.New(),
		Provider:     provider.String(),
		ProviderUID:  providerUID,
		NationalID:   nationalID,
		CandidateIDs: append([]string{}, candidateIDs...),
		Occurrences:  1,
		OpenKey:      key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		record.Occurrences = existing.Occurrences + 1
	}

	_, err = d.db.NewInsert().
		Model(record).
		On("CONFLICT (open_key) DO UPDATE").
		Set("candidate_ids = EXCLUDED.candidate_ids").
		Set("national_id = EXCLUDED.national_id").
		Set("occurrences = EXCLUDED.occurrences").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	saved, err := d.findOpen(ctx, *key)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"open_key": *key,
			})
	}
	out := saved.toCase()
	return &out, nil
}

func (d *duplicateCases) ListOpen(ctx context.Context) ([]federation.DuplicateCase, error) {
	var records []DuplicateCaseModel
	err := d.db.NewSelect().
		Model(&records).
		Where("?TableAlias.resolved = ?", false).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}

	out := make([]federation.DuplicateCase, 0, len(records))
	for i := range records {
		out = append(out, records[i].toCase())
	}
	return out, nil
}

func (d *duplicateCases) Resolve(ctx context.Context, id, note string) error {
	caseID, err := uuid.Parse(id)
	if err != nil {
		return notFoundCase(id)
	}

	now := time.Now().UTC()
	res, err := d.db.NewUpdate().
		Model((*DuplicateCaseModel)(nil)).
		Set("resolved = ?", true).
		Set("resolved_at = ?", now).
		Set("resolved_note = ?", note).
		Set("open_key = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", caseID).
		Where("resolved = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFoundCase(id)
	}
	return nil
}

func (d *duplicateCases) findOpen(ctx context.Context, key string) (*DuplicateCaseModel, error) {
	record := &DuplicateCaseModel{}
	err := d.db.NewSelect().
		Model(record).
		Where("?TableAlias.open_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func notFoundCase(id string) error {
	return federation.ErrDuplicateCaseNotFound.Clone().
		WithMetadata(map[string]any{
			"case_id": id,
		})
}
