package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
)

// FetchSnapshot reads a dataset by name or id and normalizes it through the field allow-lists.
//
// A missing dataset is reported as [shared.ErrDatasetNotFound] wrapping [shared.ErrNotFound].
func FetchSnapshot(ctx context.Context, c services.Catalog, key string) (*models.Snapshot, error) {
	raw, err := c.PackageShow(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s on %s: %w", shared.ErrDatasetNotFound, key, c.Endpoint(), err)
		}
		return nil, err
	}
	return snapshotFromPackage(raw), nil
}

// FetchTargetSnapshot is [FetchSnapshot] for the target side, where absence means "create".
//
// Only a not-found answer yields (nil, nil); transport and permission failures are returned.
func FetchTargetSnapshot(ctx context.Context, c services.Catalog, key string) (*models.Snapshot, error) {
	snap, err := FetchSnapshot(ctx, c, key)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return snap, err
}

// FetchTable reads a resource's full table: one call for the schema and row count, one for the rows.
//
// The datastore's "_id" column is stripped from the result.
func FetchTable(ctx context.Context, c services.Catalog, resourceID string) (models.Table, error) {
	head, err := c.DatastoreSearch(ctx, resourceID, 0, true)
	if err != nil {
		return models.Table{}, err
	}

	table := models.Table{Fields: head.Fields}
	if head.Total > 0 {
		body, err := c.DatastoreSearch(ctx, resourceID, head.Total, false)
		if err != nil {
			return models.Table{}, err
		}
		if len(body.Records) < head.Total {
			return models.Table{}, fmt.Errorf("%w: table %s returned %d of %d rows",
				shared.ErrUnexpectedResponse, resourceID, len(body.Records), head.Total)
		}
		table.Rows = body.Records
	}
	return table.StripAutoID(), nil
}

func snapshotFromPackage(raw map[string]any) *models.Snapshot {
	snap := &models.Snapshot{Dataset: models.DatasetFromMap(raw)}

	if org, ok := raw["organization"].(map[string]any); ok {
		snap.Organization = models.OrganizationFromMap(org)
	}
	if snap.Organization.ID == "" {
		snap.Organization.ID = snap.Dataset.OwnerOrg
	}

	list, _ := raw["resources"].([]any)
	snap.Resources = make([]models.Resource, 0, len(list))
	for _, item := range list {
		res, ok := item.(map[string]any)
		if !ok {
			continue
		}
		snap.Resources = append(snap.Resources, models.ResourceFromMap(res, len(snap.Resources)))
	}
	return snap
}
